// Package observe provides the observability primitives of rolecall:
// OpenTelemetry metrics, tracing, structured logging helpers, log forwarding
// to the remote agent, and HTTP middleware for the telemetry endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all rolecall metrics.
const meterName = "github.com/MrWong99/rolecall"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture pipeline ---

	// FramesCaptured counts frames delivered by the capture device.
	FramesCaptured metric.Int64Counter

	// FramesGated counts frames after the voice gate. Use with attribute:
	//   attribute.String("decision", "pending"|"silence"|"speech")
	FramesGated metric.Int64Counter

	// FramesDropped counts frames lost before the gate. Use with attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// SamplesSent counts voiced samples forwarded upstream.
	SamplesSent metric.Int64Counter

	// --- Transport ---

	// TransportMessages counts wire messages. Use with attributes:
	//   attribute.String("direction", "in"|"out"|"dropped"), attribute.String("type", ...)
	TransportMessages metric.Int64Counter

	// TransportErrors counts channel failures. Use with attribute:
	//   attribute.String("kind", "dial"|"read"|"write"|"decode")
	TransportErrors metric.Int64Counter

	// ConnectDuration tracks WebSocket dial latency. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	ConnectDuration metric.Float64Histogram

	// Reconnects counts reconnect attempts fired by the reconnect timer.
	Reconnects metric.Int64Counter

	// --- Session ---

	// StateChanges counts session state transitions. Use with attribute:
	//   attribute.String("state", ...)
	StateChanges metric.Int64Counter

	// Interrupts counts user barge-ins.
	Interrupts metric.Int64Counter

	// TranscriptionFailures counts "Transcription failed" user transcripts.
	TranscriptionFailures metric.Int64Counter

	// PlaybackChunks counts agent audio chunks handed to the playback queue.
	PlaybackChunks metric.Int64Counter

	// ActiveSessions tracks whether a recording session is live.
	ActiveSessions metric.Int64UpDownCounter

	// LogsForwarded counts log lines offered to the agent. Use with attribute:
	//   attribute.String("status", "sent"|"dropped"|"throttled")
	LogsForwarded metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks telemetry endpoint latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", pattern|"unmatched")
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for dial
// and request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesCaptured, "rolecall.frames.captured", "Frames delivered by the capture device."},
		{&met.FramesGated, "rolecall.frames.gated", "Frames evaluated by the voice gate by decision."},
		{&met.FramesDropped, "rolecall.frames.dropped", "Frames dropped before the voice gate by reason."},
		{&met.SamplesSent, "rolecall.samples.sent", "Voiced samples forwarded to the agent."},
		{&met.TransportMessages, "rolecall.transport.messages", "Wire messages by direction and type."},
		{&met.TransportErrors, "rolecall.transport.errors", "Channel failures by kind."},
		{&met.Reconnects, "rolecall.reconnects", "Reconnect attempts."},
		{&met.StateChanges, "rolecall.session.state_changes", "Session state transitions by target state."},
		{&met.Interrupts, "rolecall.interrupts", "User barge-ins."},
		{&met.TranscriptionFailures, "rolecall.transcription_failures", "Failed user transcriptions reported by the agent."},
		{&met.PlaybackChunks, "rolecall.playback.chunks", "Agent audio chunks queued for playback."},
		{&met.LogsForwarded, "rolecall.logs.forwarded", "Log lines offered to the agent by outcome."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ConnectDuration, err = m.Float64Histogram("rolecall.connect.duration",
		metric.WithDescription("Latency of the WebSocket dial."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("rolecall.active_sessions",
		metric.WithDescription("Number of live recording sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("rolecall.http.request.duration",
		metric.WithDescription("Telemetry endpoint latency by method and route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordMessage counts one wire message.
func (m *Metrics) RecordMessage(ctx context.Context, direction, typ string) {
	m.TransportMessages.Add(ctx, 1,
		metric.WithAttributes(Attr("direction", direction), Attr("type", typ)),
	)
}

// RecordTransportError counts one channel failure of the given kind.
func (m *Metrics) RecordTransportError(ctx context.Context, kind string) {
	m.TransportErrors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordConnect records a dial attempt and its latency.
func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ConnectDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status)))
}

// RecordGate counts one frame evaluated by the voice gate.
func (m *Metrics) RecordGate(ctx context.Context, decision string) {
	m.FramesGated.Add(ctx, 1, metric.WithAttributes(Attr("decision", decision)))
}

// RecordDrop counts one frame dropped before the gate.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordStateChange counts a transition into state.
func (m *Metrics) RecordStateChange(ctx context.Context, state string) {
	m.StateChanges.Add(ctx, 1, metric.WithAttributes(Attr("state", state)))
}

// RecordLogForward counts one forwarded log line by outcome.
func (m *Metrics) RecordLogForward(ctx context.Context, status string) {
	m.LogsForwarded.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}
