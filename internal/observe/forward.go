package observe

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LogSender delivers a rendered log line to the remote agent.
type LogSender interface {
	IsOpen() bool
	SendLog(ctx context.Context, text string) error
}

// ForwardOptions configures a [Forwarder].
type ForwardOptions struct {
	// Level is the minimum level forwarded. Default: info.
	Level slog.Leveler

	// Rate is the sustained number of lines per second sent. Default: 20.
	Rate float64

	// Burst is the number of lines that may be sent back to back. Default: 40.
	Burst int

	// QueueSize bounds the lines waiting to be sent. Lines offered to a full
	// queue are dropped. Default: 256.
	QueueSize int

	// SendTimeout bounds a single send. Default: 2s.
	SendTimeout time.Duration

	// Metrics receives forwarding outcomes. Default: [DefaultMetrics].
	Metrics *Metrics

	// Now is the clock used for line timestamps. Default: time.Now.
	Now func() time.Time
}

// Forwarder mirrors log records to the agent as log messages. Sending
// happens on its own goroutine so logging never blocks on the network.
type Forwarder struct {
	sender  LogSender
	level   slog.Leveler
	limiter *rate.Limiter
	timeout time.Duration
	metrics *Metrics
	now     func() time.Time

	queue     chan string
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewForwarder starts a Forwarder sending through sender.
func NewForwarder(sender LogSender, opts ForwardOptions) *Forwarder {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	if opts.Rate <= 0 {
		opts.Rate = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 2 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = DefaultMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	f := &Forwarder{
		sender:  sender,
		level:   opts.Level,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		timeout: opts.SendTimeout,
		metrics: opts.Metrics,
		now:     opts.Now,
		queue:   make(chan string, opts.QueueSize),
		done:    make(chan struct{}),
	}
	f.wg.Add(1)
	go f.run()
	return f
}

// Handler wraps inner so that every record it handles is also forwarded.
func (f *Forwarder) Handler(inner slog.Handler) slog.Handler {
	return &forwardHandler{inner: inner, f: f}
}

// Close stops the send goroutine. Queued lines are discarded.
func (f *Forwarder) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.wg.Wait()
	})
}

func (f *Forwarder) offer(ctx context.Context, line string) {
	select {
	case f.queue <- line:
	default:
		f.metrics.RecordLogForward(ctx, "dropped")
	}
}

func (f *Forwarder) run() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case line := <-f.queue:
			f.send(line)
		}
	}
}

func (f *Forwarder) send(line string) {
	ctx, cancel := context.WithTimeout(WithoutForwarding(context.Background()), f.timeout)
	defer cancel()

	if !f.limiter.Allow() {
		f.metrics.RecordLogForward(ctx, "throttled")
		return
	}
	if err := f.sender.SendLog(ctx, line); err != nil {
		f.metrics.RecordLogForward(ctx, "dropped")
		return
	}
	f.metrics.RecordLogForward(ctx, "sent")
}

type noForwardKey struct{}

// WithoutForwarding marks ctx so that records logged with it are not
// forwarded. The forwarder uses it for its own sends, and transports should
// log with the ctx they were handed.
func WithoutForwarding(ctx context.Context) context.Context {
	return context.WithValue(ctx, noForwardKey{}, true)
}

func forwardingSuppressed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(noForwardKey{}).(bool)
	return v
}

// forwardHandler is the slog.Handler decorator returned by Forwarder.Handler.
type forwardHandler struct {
	inner  slog.Handler
	f      *Forwarder
	attrs  string // pre-rendered attributes from WithAttrs
	prefix string // dotted group prefix from WithGroup
}

func (h *forwardHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level) || level >= h.f.level.Level()
}

func (h *forwardHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.inner.Enabled(ctx, r.Level) {
		err = h.inner.Handle(ctx, r)
	}
	if r.Level < h.f.level.Level() || forwardingSuppressed(ctx) || !h.f.sender.IsOpen() {
		return err
	}
	h.f.offer(ctx, h.render(r))
	return err
}

func (h *forwardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		appendAttr(&b, h.prefix, a)
	}
	return &forwardHandler{inner: h.inner.WithAttrs(attrs), f: h.f, attrs: b.String(), prefix: h.prefix}
}

func (h *forwardHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &forwardHandler{inner: h.inner.WithGroup(name), f: h.f, attrs: h.attrs, prefix: h.prefix + name + "."}
}

// render formats r as "[Client <RFC3339>] <msg> k=v ...".
func (h *forwardHandler) render(r slog.Record) string {
	var b strings.Builder
	b.WriteString("[Client ")
	b.WriteString(h.f.now().UTC().Format(time.RFC3339))
	b.WriteString("] ")
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})
	return b.String()
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, p, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}
