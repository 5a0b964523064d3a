package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_TagsSession(t *testing.T) {
	exp := useTestTracer(t)

	tests := []struct {
		name    string
		ctx     context.Context
		want    string
		present bool
	}{
		{name: "in session", ctx: WithSessionID(context.Background(), "0b7e2c1e"), want: "0b7e2c1e", present: true},
		{name: "outside session", ctx: context.Background()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp.Reset()
			ctx, span := StartSpan(tt.ctx, "transport.connect")
			if len(CorrelationID(ctx)) != 32 {
				t.Errorf("CorrelationID = %q, want a 32-char trace ID", CorrelationID(ctx))
			}
			span.End()

			spans := exp.GetSpans()
			if len(spans) != 1 || spans[0].Name != "transport.connect" {
				t.Fatalf("spans = %v, want one transport.connect span", spans)
			}
			var got string
			var found bool
			for _, a := range spans[0].Attributes {
				if string(a.Key) == sessionAttr {
					got, found = a.Value.AsString(), true
				}
			}
			if found != tt.present || got != tt.want {
				t.Errorf("%s = %q (present %v), want %q (present %v)", sessionAttr, got, found, tt.want, tt.present)
			}
		})
	}
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestLogger_Attributes(t *testing.T) {
	useTestTracer(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("plain")
	ctx := WithSessionID(context.Background(), "0b7e2c1e")
	ctx, span := StartSpan(ctx, "session")
	defer span.End()
	Logger(ctx).Info("tagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2: %q", len(lines), buf.String())
	}
	for _, key := range []string{"session_id=", "trace_id=", "span_id="} {
		if strings.Contains(lines[0], key) {
			t.Errorf("plain line has %s: %s", key, lines[0])
		}
		if !strings.Contains(lines[1], key) {
			t.Errorf("tagged line missing %s: %s", key, lines[1])
		}
	}
	if !strings.Contains(lines[1], "session_id=0b7e2c1e") {
		t.Errorf("tagged line has wrong session: %s", lines[1])
	}
}

func TestSessionID(t *testing.T) {
	t.Parallel()
	if got := SessionID(WithSessionID(context.Background(), "abc")); got != "abc" {
		t.Errorf("SessionID() = %q, want abc", got)
	}
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
}
