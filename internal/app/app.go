// Package app wires all rolecall subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the capture and
// playback devices, the agent client and the session controller, Run drives
// the controller and the console until the user quits, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithSink, WithKeys, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rolecall/internal/config"
	"github.com/MrWong99/rolecall/internal/console"
	"github.com/MrWong99/rolecall/internal/health"
	"github.com/MrWong99/rolecall/internal/observe"
	"github.com/MrWong99/rolecall/internal/session"
	"github.com/MrWong99/rolecall/pkg/audio"
	"github.com/MrWong99/rolecall/pkg/audio/malgo"
	"github.com/MrWong99/rolecall/pkg/audio/oto"
	"github.com/MrWong99/rolecall/pkg/playback"
	"github.com/MrWong99/rolecall/pkg/transport"
	"github.com/MrWong99/rolecall/pkg/vad"
)

// App owns all subsystem lifetimes and orchestrates the rolecall voice pipeline.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics
	out     io.Writer
	keys    <-chan console.KeyPress
	level   slog.Leveler

	// Subsystems, initialised in New and torn down in Shutdown.
	source    audio.FrameSource
	sink      audio.Sink
	queue     *playback.Queue
	client    *transport.Client
	console   *console.Console
	ctl       *session.Controller
	forwarder *observe.Forwarder

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a frame source instead of opening the microphone.
func WithSource(s audio.FrameSource) Option {
	return func(a *App) { a.source = s }
}

// WithSink injects an audio sink instead of opening the speaker.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics sets the metrics instance shared by all subsystems.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithOutput sets where transcript and status lines are printed.
// Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithKeys feeds key presses from keys instead of the raw terminal.
func WithKeys(keys <-chan console.KeyPress) Option {
	return func(a *App) { a.keys = keys }
}

// WithLogLevel sets the minimum level of forwarded log lines. Passing a
// [slog.LevelVar] lets a config reload take effect without a restart.
func WithLogLevel(l slog.Leveler) Option {
	return func(a *App) { a.level = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for the audio devices and the terminal.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, out: os.Stdout}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = cfg.Log.Level.Slog()
	}

	// ── 1. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 2. Voice gate ────────────────────────────────────────────────────
	gate, err := vad.New(cfg.VAD)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init vad: %w", err)
	}

	// ── 3. Agent client ──────────────────────────────────────────────────
	a.client = transport.New(cfg.Server.URL,
		transport.WithDialTimeout(cfg.Server.DialTimeout),
		transport.WithWriteTimeout(cfg.Server.WriteTimeout),
		transport.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.client.Close)

	if cfg.Log.Forward {
		a.forwarder = observe.NewForwarder(a.client, observe.ForwardOptions{
			Level:   a.level,
			Rate:    cfg.Log.ForwardRate,
			Burst:   cfg.Log.ForwardBurst,
			Metrics: a.metrics,
		})
		// Closed first so no line races the client shutdown.
		a.closers = append([]func() error{func() error { a.forwarder.Close(); return nil }}, a.closers...)
	}

	// ── 4. Session controller ────────────────────────────────────────────
	a.console = console.New(a.out)
	a.ctl, err = session.New(session.Config{
		TemplateID:               cfg.Session.TemplateID,
		Source:                   a.source,
		Gate:                     gate,
		Transport:                a.client,
		Player:                   a.queue,
		Listener:                 a.console,
		Metrics:                  a.metrics,
		ReconnectDelay:           cfg.Session.ReconnectDelay,
		MaxTranscriptionFailures: cfg.Session.MaxTranscriptionFailures,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	slog.Debug("app initialised",
		"server", cfg.Server.URL,
		"template_id", cfg.Session.TemplateID,
		"forward_logs", cfg.Log.Forward,
	)
	return a, nil
}

func (a *App) initAudio() error {
	if a.source == nil {
		a.source = malgo.New(
			malgo.WithDevice(a.cfg.Audio.CaptureDevice),
			malgo.WithFrameSamples(a.cfg.Audio.FrameSamples),
		)
	}
	if a.sink == nil {
		s, err := oto.New(oto.WithBufferBytes(playbackBufferBytes(a.cfg.Audio)))
		if err != nil {
			return err
		}
		a.sink = s
	}
	a.queue = playback.New(a.sink)
	// The queue closes the sink.
	a.closers = append(a.closers, a.queue.Close)
	return nil
}

// playbackBufferBytes converts the configured buffer length to a byte count
// of mono 16-bit PCM.
func playbackBufferBytes(cfg config.AudioConfig) int {
	samples := int(cfg.PlaybackBuffer.Seconds() * float64(cfg.SampleRate))
	return samples * audio.BytesPerSample
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.ctl }

// Client returns the agent client.
func (a *App) Client() *transport.Client { return a.client }

// LogHandler wraps inner so that records are also forwarded to the agent.
// When forwarding is disabled inner is returned unchanged.
func (a *App) LogHandler(inner slog.Handler) slog.Handler {
	if a.forwarder == nil {
		return inner
	}
	return a.forwarder.Handler(inner)
}

// HTTPHandler returns the telemetry endpoint: /healthz, /readyz and, when
// metrics is non-nil, /metrics.
func (a *App) HTTPHandler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	health.New(health.ChannelChecker(a.ctl.Recording, a.client.IsOpen)).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the session controller and the console until the user quits or
// ctx is cancelled. The active recording is stopped before Run returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.ctl.Run(gctx)
	})
	g.Go(func() error {
		// Quitting the console ends the whole run.
		defer cancel()
		if a.keys != nil {
			return a.console.Drive(gctx, a.keys, a.ctl)
		}
		return a.console.Run(gctx, a.ctl)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New managed to open before failing.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
