// Package transport owns the duplex WebSocket channel between rolecall and
// the remote conversational agent.
//
// The [Client] dials one connection per conversation template, encodes
// [Outbound] messages as JSON envelopes, and turns every inbound message into
// exactly one [Event]. It has no reconnect policy of its own: when the
// current connection fails it emits an [EventClosed] and leaves the decision
// to the caller. Events from a connection that has been replaced or
// explicitly closed are never emitted.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/rolecall/internal/observe"
)

// ErrChannel wraps every transport-level failure: dial, read and write
// errors, and server-side closes.
var ErrChannel = errors.New("transport: channel error")

// SessionHeader carries the client's recording session ID on the handshake.
const SessionHeader = "X-Rolecall-Session"

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultEventBuffer  = 64

	// defaultReadLimit accommodates multi-second base64 audio deltas.
	defaultReadLimit = 8 << 20
)

// ── Options ──────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithDialTimeout bounds each Connect.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds each Send.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithHeader adds a header sent on every handshake.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithEventBuffer sets the capacity of the [Client.Events] channel.
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.events = make(chan Event, n)
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// ── Client ───────────────────────────────────────────────────────────────────

// Client is the duplex channel to the agent. All methods are safe for
// concurrent use; Connect calls are serialized.
type Client struct {
	baseURL      string
	header       http.Header
	dialTimeout  time.Duration
	writeTimeout time.Duration
	metrics      *observe.Metrics
	events       chan Event

	dialMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	connID     uint64
	nextID     uint64
	cancelRead context.CancelFunc
}

// New returns a Client for agents served under baseURL, for example
// ws://localhost:8000/stream. The template ID is appended as the last path
// segment on Connect.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		header:       http.Header{},
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		metrics:      observe.DefaultMetrics(),
		events:       make(chan Event, defaultEventBuffer),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Endpoint returns the WebSocket URL for templateID.
func Endpoint(baseURL, templateID string) (string, error) {
	if templateID == "" {
		return "", errors.New("transport: empty template id")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("transport: parse base url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
	return u.JoinPath(templateID).String(), nil
}

// Connect dials the agent for templateID, replacing any current connection.
// sessionID, when non-empty, is sent as the [SessionHeader].
//
// If ctx is cancelled while the dial is in flight, the new connection is
// discarded even if the handshake already succeeded.
func (c *Client) Connect(ctx context.Context, templateID, sessionID string) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	endpoint, err := Endpoint(c.baseURL, templateID)
	if err != nil {
		return err
	}

	ctx, span := observe.StartSpan(ctx, "transport.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rolecall.template_id", templateID)),
	)
	defer span.End()

	header := c.header.Clone()
	if sessionID != "" {
		header.Set(SessionHeader, sessionID)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	start := time.Now()
	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{HTTPHeader: header})
	c.metrics.RecordConnect(ctx, time.Since(start), err)
	if err != nil {
		c.metrics.RecordTransportError(ctx, "dial")
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return fmt.Errorf("%w: dial %s: %w", ErrChannel, endpoint, err)
	}
	conn.SetReadLimit(defaultReadLimit)

	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return err
	}
	old, oldCancel := c.conn, c.cancelRead
	c.nextID++
	id := c.nextID
	readCtx, readCancel := context.WithCancel(context.Background())
	c.conn, c.connID, c.cancelRead = conn, id, readCancel
	c.mu.Unlock()

	closeAsync(old, oldCancel, "reconnect")

	observe.Logger(ctx).DebugContext(ctx, "transport: connected", "url", endpoint, "conn", id)
	go c.readLoop(readCtx, conn, id)
	return nil
}

// Send writes msg to the agent. When no connection is open the message is
// dropped and Send returns nil; messages are never queued.
func (c *Client) Send(ctx context.Context, msg Outbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.metrics.RecordMessage(ctx, "dropped", msg.Type())
		slog.DebugContext(ctx, "transport: channel not open, dropping message", "type", msg.Type())
		return nil
	}

	data, err := Encode(msg)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		c.metrics.RecordTransportError(ctx, "write")
		return fmt.Errorf("%w: write %s: %w", ErrChannel, msg.Type(), err)
	}
	c.metrics.RecordMessage(ctx, "out", msg.Type())
	return nil
}

// SendLog sends text as a [Log] message. It satisfies observe.LogSender.
func (c *Client) SendLog(ctx context.Context, text string) error {
	return c.Send(ctx, Log{Text: text})
}

// Close terminates the current connection, if any. It returns without
// waiting for the peer to answer the close handshake, never emits an
// [EventClosed] and is always safe to call.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, cancel := c.conn, c.cancelRead
	c.conn, c.cancelRead = nil, nil
	c.mu.Unlock()

	closeAsync(conn, cancel, "client closed")
	return nil
}

// closeAsync runs the close handshake on its own goroutine. The peer may take
// up to the library's handshake timeout to answer, and callers must not wait
// for it. The read loop is cancelled once the handshake ends.
func closeAsync(conn *websocket.Conn, cancel context.CancelFunc, reason string) {
	if conn == nil {
		if cancel != nil {
			cancel()
		}
		return
	}
	go func() {
		if err := conn.Close(websocket.StatusNormalClosure, reason); err != nil {
			slog.Debug("transport: close", "reason", reason, "err", err)
		}
		if cancel != nil {
			cancel()
		}
	}()
}

// IsOpen reports whether a connection is currently established.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// ConnID returns the ID of the current connection, or 0 when none is open.
func (c *Client) ConnID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return 0
	}
	return c.connID
}

// Events returns the channel on which inbound events are delivered, in
// arrival order.
func (c *Client) Events() <-chan Event { return c.events }

// readLoop reads messages from conn until it fails or ctx is cancelled.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, id uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.lost(ctx, conn, id, err)
			return
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			c.metrics.RecordTransportError(ctx, "decode")
			slog.Warn("transport: ignoring inbound message", "err", err)
			continue
		}
		c.metrics.RecordMessage(ctx, "in", ev.Type.String())
		ev.Conn = id
		if !c.emit(ctx, ev) {
			return
		}
	}
}

// lost handles a read failure. Only a failure of the current connection that
// was not closed on purpose is reported.
func (c *Client) lost(ctx context.Context, conn *websocket.Conn, id uint64, err error) {
	c.mu.Lock()
	current := c.conn == conn && c.connID == id
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	if !current || ctx.Err() != nil {
		return
	}

	conn.CloseNow()
	c.metrics.RecordTransportError(ctx, "read")
	if status := websocket.CloseStatus(err); status != -1 {
		slog.Info("transport: server closed connection", "status", status, "conn", id)
	} else {
		slog.Warn("transport: connection lost", "err", err, "conn", id)
	}
	c.emit(ctx, Event{Type: EventClosed, Conn: id, Err: fmt.Errorf("%w: read: %w", ErrChannel, err)})
}

func (c *Client) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
