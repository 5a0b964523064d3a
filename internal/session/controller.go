// Package session implements the conversation state machine that ties the
// microphone, the voice gate, the agent channel and the playback queue
// together.
//
// A [Controller] owns a single goroutine ([Controller.Run]) that is the only
// mutator of session state. Device frames, transport events, connect results,
// reconnect timer fires and console commands are all posted to it as typed
// values and handled one at a time, in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/rolecall/internal/observe"
	"github.com/MrWong99/rolecall/pkg/audio"
	"github.com/MrWong99/rolecall/pkg/playback"
	"github.com/MrWong99/rolecall/pkg/transport"
	"github.com/MrWong99/rolecall/pkg/vad"
)

// Default controller parameters.
const (
	defaultMaxTranscriptionFailures = 3
	defaultInboxSize                = 64
)

// Transport is the duplex channel to the agent. [*transport.Client]
// satisfies it.
type Transport interface {
	Connect(ctx context.Context, templateID, sessionID string) error
	Send(ctx context.Context, msg transport.Outbound) error
	Close() error
	Events() <-chan transport.Event
	IsOpen() bool
	ConnID() uint64
}

// Player plays agent audio. [*playback.Queue] satisfies it.
type Player interface {
	Enqueue(chunk playback.Chunk)
	Interrupt() playback.Cut
}

// Gate decides which frames are forwarded. [*vad.Gate] satisfies it.
type Gate interface {
	Process(samples []int16) vad.Decision
	Reset()
}

// Listener receives transcript messages and status changes. Callbacks run on
// the controller goroutine and must not block.
type Listener interface {
	OnMessage(Message)
	OnStatus(Status)
}

// Config configures a [Controller].
type Config struct {
	// TemplateID selects the agent conversation template. Required.
	TemplateID string

	// Source captures microphone frames. Required.
	Source audio.FrameSource

	// Gate filters frames before they are sent. Defaults to a [vad.Gate]
	// with [vad.DefaultConfig].
	Gate Gate

	// Transport is the agent channel. Required.
	Transport Transport

	// Player plays agent audio. Required.
	Player Player

	// Listener receives messages and status changes. May be nil.
	Listener Listener

	// Metrics records session metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// ReconnectDelay is the fixed wait before redialling. Defaults to 2s.
	ReconnectDelay time.Duration

	// MaxTranscriptionFailures is the number of consecutive failed user
	// transcriptions that ends the session. Defaults to 3.
	MaxTranscriptionFailures int

	// InboxSize bounds the frame inbox. Frames arriving while it is full are
	// dropped and counted. Defaults to 64.
	InboxSize int
}

func (c Config) validate() error {
	var errs []error
	if c.TemplateID == "" {
		errs = append(errs, errors.New("session: template ID is required"))
	}
	if c.Source == nil {
		errs = append(errs, errors.New("session: frame source is required"))
	}
	if c.Transport == nil {
		errs = append(errs, errors.New("session: transport is required"))
	}
	if c.Player == nil {
		errs = append(errs, errors.New("session: player is required"))
	}
	return errors.Join(errs...)
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	State             State
	Recording         bool
	SessionID         string
	Failures          int
	SamplesSent       int64
	ReconnectAttempts int
	ReconnectPending  bool
	Transcript        []Message
}

type command struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

type frameMsg struct {
	gen   uint64
	frame audio.Frame
}

type connectResult struct {
	seq uint64
	id  uint64
	err error
}

// sessionState is owned by the Run goroutine.
type sessionState struct {
	state       State
	recording   bool
	gen         uint64 // recording generation; frames from older ones are stale
	sessionID   string
	failures    int
	samplesSent int64
	transcript  []Message

	connectSeq    uint64
	connecting    bool
	cancelConnect context.CancelFunc
	connID        uint64
	early         []transport.Event // events that beat their connect result
}

// Controller drives a recording session. Create with [New] and start the
// event loop with [Controller.Run] before issuing commands.
type Controller struct {
	cfg       Config
	metrics   *observe.Metrics
	listener  Listener
	reconnect *Reconnector

	cmds     chan command
	frames   chan frameMsg
	connects chan connectResult
	done     chan struct{}

	st sessionState
}

// New validates cfg and returns a Controller in [StateIdle].
func New(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Gate == nil {
		g, err := vad.New(vad.DefaultConfig())
		if err != nil {
			return nil, err
		}
		cfg.Gate = g
	}
	if cfg.MaxTranscriptionFailures <= 0 {
		cfg.MaxTranscriptionFailures = defaultMaxTranscriptionFailures
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	l := cfg.Listener
	if l == nil {
		l = nopListener{}
	}
	return &Controller{
		cfg:       cfg,
		metrics:   m,
		listener:  l,
		reconnect: NewReconnector(cfg.ReconnectDelay),
		cmds:      make(chan command),
		frames:    make(chan frameMsg, cfg.InboxSize),
		connects:  make(chan connectResult),
		done:      make(chan struct{}),
	}, nil
}

// Run processes commands and events until ctx is cancelled. An active
// session is stopped on the way out. Run must be called exactly once.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.reconnect.Close()

	events := c.cfg.Transport.Events()
	for {
		select {
		case <-ctx.Done():
			c.stop(context.WithoutCancel(ctx), "shutdown")
			return nil
		case cmd := <-c.cmds:
			cmd.fn(ctx)
			close(cmd.done)
		case f := <-c.frames:
			c.handleFrame(ctx, f)
		case ev := <-events:
			c.handleEvent(ctx, ev)
		case res := <-c.connects:
			c.handleConnect(ctx, res)
		case gen := <-c.reconnect.C():
			c.handleReconnect(ctx, gen)
		}
	}
}

// StartRecording acquires the microphone and dials the agent. Valid from
// Idle and Stopped. In Error the session is still recording while the
// reconnect is pending, so ErrAlreadyRecording is returned. A device failure
// is reported to the listener, leaves the session Stopped and is returned.
func (c *Controller) StartRecording(ctx context.Context) error {
	var err error
	if e := c.do(ctx, func(ctx context.Context) { err = c.start(ctx) }); e != nil {
		return e
	}
	return err
}

// StopRecording tears the session down. It is a no-op when not recording.
func (c *Controller) StopRecording(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) { c.stop(ctx, "user") })
}

// InterruptSpeaking cuts the agent off. It returns [ErrNotSpeaking] unless
// the agent is speaking and the channel is open.
func (c *Controller) InterruptSpeaking(ctx context.Context) error {
	var err error
	if e := c.do(ctx, func(ctx context.Context) { err = c.interrupt(ctx) }); e != nil {
		return e
	}
	return err
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func(context.Context) {
		s = Snapshot{
			State:             c.st.state,
			Recording:         c.st.recording,
			SessionID:         c.st.sessionID,
			Failures:          c.st.failures,
			SamplesSent:       c.st.samplesSent,
			ReconnectAttempts: c.reconnect.Attempts(),
			ReconnectPending:  c.reconnect.Pending(),
			Transcript:        append([]Message(nil), c.st.transcript...),
		}
	})
	return s, err
}

// Recording reports whether a session is active.
func (c *Controller) Recording(ctx context.Context) bool {
	s, err := c.Snapshot(ctx)
	return err == nil && s.Recording
}

// do runs fn on the controller goroutine and waits for it to finish.
func (c *Controller) do(ctx context.Context, fn func(context.Context)) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-cmd.done
	return nil
}

// ─── Commands ────────────────────────────────────────────────────────────────

func (c *Controller) start(ctx context.Context) error {
	if c.st.recording {
		return ErrAlreadyRecording
	}
	c.st.gen++
	c.st.recording = true
	c.st.sessionID = uuid.NewString()
	c.st.failures = 0
	c.st.samplesSent = 0
	c.st.transcript = nil
	c.cfg.Gate.Reset()
	c.reconnect.Cancel()
	c.reconnect.ResetAttempts()
	c.metrics.ActiveSessions.Add(ctx, 1)

	ctx = c.sessionCtx(ctx)
	observe.Logger(ctx).InfoContext(ctx, "session: starting recording", "template_id", c.cfg.TemplateID)
	c.setState(ctx, StateConnecting, "")

	if err := c.cfg.Source.Begin(ctx); err != nil {
		return c.deviceFailed(ctx, err)
	}
	if err := c.cfg.Source.Record(c.onFrame(c.st.gen)); err != nil {
		return c.deviceFailed(ctx, err)
	}
	c.connect(ctx)
	return nil
}

func (c *Controller) deviceFailed(ctx context.Context, err error) error {
	observe.Logger(ctx).ErrorContext(ctx, "session: microphone unavailable", "err", err)
	c.setState(ctx, StateError, "Error: "+err.Error())
	c.addMessage(ctx, Message{Sender: SenderBot, Text: msgMicFailed + err.Error(), Category: CategoryError})
	c.stop(ctx, "device")
	return fmt.Errorf("session: start recording: %w", err)
}

func (c *Controller) stop(ctx context.Context, reason string) {
	if !c.st.recording {
		return
	}
	ctx = c.sessionCtx(ctx)
	c.st.recording = false
	c.st.gen++
	c.reconnect.Cancel()
	c.abortConnect()
	c.st.connID = 0

	if err := c.cfg.Source.End(); err != nil {
		slog.Warn("session: releasing microphone", "err", err)
	}
	cut := c.cfg.Player.Interrupt()
	if err := c.cfg.Transport.Close(); err != nil {
		slog.Warn("session: closing channel", "err", err)
	}
	c.metrics.ActiveSessions.Add(ctx, -1)
	observe.Logger(ctx).InfoContext(ctx, "session: stopped",
		"reason", reason,
		"samples_sent", c.st.samplesSent,
		"cut_track", cut.TrackID,
		"cut_offset", cut.Offset,
	)
	c.setState(ctx, StateStopped, "")
}

func (c *Controller) interrupt(ctx context.Context) error {
	if c.st.state != StateBotSpeaking || !c.cfg.Transport.IsOpen() {
		return ErrNotSpeaking
	}
	ctx = c.sessionCtx(ctx)
	if err := c.cfg.Transport.Send(ctx, transport.Interrupt{SampleCount: c.st.samplesSent}); err != nil {
		slog.Warn("session: sending interrupt", "err", err)
	}
	cut := c.cfg.Player.Interrupt()
	c.metrics.Interrupts.Add(ctx, 1)
	observe.Logger(ctx).InfoContext(ctx, "session: interrupted agent",
		"sample_count", c.st.samplesSent,
		"cut_track", cut.TrackID,
		"cut_offset", cut.Offset,
		"cut_time", cut.CurrentTime,
	)
	c.setState(ctx, StateListening, "")
	return nil
}

// ─── Connection lifecycle ────────────────────────────────────────────────────

// connect dials the agent on a helper goroutine. A dial still in flight is
// cancelled first.
func (c *Controller) connect(ctx context.Context) {
	c.abortConnect()
	c.st.connectSeq++
	c.st.connecting = true
	c.st.connID = 0

	dctx, cancel := context.WithCancel(ctx)
	c.st.cancelConnect = cancel
	seq, sessionID := c.st.connectSeq, c.st.sessionID
	go func() {
		res := connectResult{seq: seq}
		res.err = c.cfg.Transport.Connect(dctx, c.cfg.TemplateID, sessionID)
		if res.err == nil {
			res.id = c.cfg.Transport.ConnID()
		}
		select {
		case c.connects <- res:
		case <-c.done:
		}
	}()
}

func (c *Controller) abortConnect() {
	if c.st.cancelConnect != nil {
		c.st.cancelConnect()
		c.st.cancelConnect = nil
	}
	c.st.connecting = false
	c.st.early = nil
}

func (c *Controller) handleConnect(ctx context.Context, res connectResult) {
	if res.seq != c.st.connectSeq || !c.st.recording {
		return
	}
	ctx = c.sessionCtx(ctx)
	early := c.st.early
	c.st.early = nil
	c.st.connecting = false
	if c.st.cancelConnect != nil {
		c.st.cancelConnect()
		c.st.cancelConnect = nil
	}

	err := res.err
	if err == nil && res.id == 0 {
		err = fmt.Errorf("%w: connection lost during handshake", transport.ErrChannel)
	}
	if err != nil {
		c.channelLost(ctx, err)
		return
	}

	c.st.connID = res.id
	c.reconnect.ResetAttempts()
	observe.Logger(ctx).InfoContext(ctx, "session: channel open", "conn", res.id)
	c.setState(ctx, StateListening, "")
	for _, ev := range early {
		if ev.Conn == res.id {
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Controller) handleReconnect(ctx context.Context, gen uint64) {
	if !c.reconnect.Claim(gen) || !c.st.recording {
		return
	}
	ctx = c.sessionCtx(ctx)
	c.metrics.Reconnects.Add(ctx, 1)
	observe.Logger(ctx).InfoContext(ctx, "session: reconnecting",
		"attempt", c.reconnect.Attempts(),
		"template_id", c.cfg.TemplateID,
	)
	c.setState(ctx, StateConnecting, "")
	c.connect(ctx)
}

// channelLost reports a channel failure and schedules the next attempt.
func (c *Controller) channelLost(ctx context.Context, err error) {
	c.st.connID = 0
	observe.Logger(ctx).WarnContext(ctx, "session: channel error", "err", err)
	c.setState(ctx, StateError, "")
	c.addMessage(ctx, Message{Sender: SenderBot, Text: msgChannelFailed, Category: CategoryWarning})
	c.reconnect.Schedule()
	observe.Logger(ctx).InfoContext(ctx, "session: reconnect scheduled",
		"delay", c.reconnect.Delay(),
		"attempt", c.reconnect.Attempts(),
	)
}

// ─── Frames ──────────────────────────────────────────────────────────────────

// onFrame returns the capture callback for recording generation gen. It
// never blocks the audio thread.
func (c *Controller) onFrame(gen uint64) func(audio.Frame) {
	return func(f audio.Frame) {
		select {
		case c.frames <- frameMsg{gen: gen, frame: f}:
		default:
			c.metrics.RecordDrop(context.Background(), "inbox_full")
		}
	}
}

func (c *Controller) handleFrame(ctx context.Context, f frameMsg) {
	if f.gen != c.st.gen || !c.st.recording {
		c.metrics.RecordDrop(ctx, "stale")
		return
	}
	c.metrics.FramesCaptured.Add(ctx, 1)

	d := c.cfg.Gate.Process(f.frame.Samples)
	c.metrics.RecordGate(ctx, d.String())
	if !d.Forward() {
		return
	}

	n := int64(len(f.frame.Samples))
	c.st.samplesSent += n
	c.metrics.SamplesSent.Add(ctx, n)
	ctx = observe.WithoutForwarding(c.sessionCtx(ctx))
	if err := c.cfg.Transport.Send(ctx, transport.Audio{Samples: f.frame.Samples}); err != nil {
		slog.Debug("session: sending audio", "err", err)
	}
}

// ─── Inbound events ──────────────────────────────────────────────────────────

func (c *Controller) handleEvent(ctx context.Context, ev transport.Event) {
	if !c.st.recording {
		return
	}
	if c.st.connID == 0 || ev.Conn != c.st.connID {
		if c.st.connecting && len(c.st.early) < c.cfg.InboxSize {
			c.st.early = append(c.st.early, ev)
		}
		return
	}
	ctx = c.sessionCtx(ctx)

	switch ev.Type {
	case transport.EventAudio:
		c.cfg.Player.Enqueue(playback.Chunk{TrackID: playback.DefaultTrackID, Samples: ev.Audio})
		c.metrics.PlaybackChunks.Add(ctx, 1)
		c.setState(ctx, StateBotSpeaking, "")

	case transport.EventText:
		if ev.Text == transport.TurnEndTranscript {
			c.setState(ctx, StateListening, "")
			return
		}
		c.addMessage(ctx, Message{Sender: SenderBot, Text: ev.Text, Category: CategoryBot})
		c.setState(ctx, StateBotSpeaking, "")

	case transport.EventUserText:
		c.handleUserText(ctx, ev.Text)

	case transport.EventError:
		err := &RemoteError{Message: ev.Text}
		observe.Logger(ctx).ErrorContext(ctx, "session: agent reported error", "err", err)
		c.addMessage(ctx, Message{Sender: SenderBot, Text: msgRemoteError + ev.Text, Category: CategoryError})
		c.stop(ctx, "remote_error")

	case transport.EventClosed:
		c.channelLost(ctx, ev.Err)
	}
}

func (c *Controller) handleUserText(ctx context.Context, text string) {
	if text != transport.TranscriptionFailed {
		c.st.failures = 0
		c.addMessage(ctx, Message{Sender: SenderUser, Text: text, Category: CategoryUser})
		return
	}

	c.st.failures++
	c.metrics.TranscriptionFailures.Add(ctx, 1)
	observe.Logger(ctx).WarnContext(ctx, "session: transcription failed",
		"consecutive", c.st.failures,
		"limit", c.cfg.MaxTranscriptionFailures,
	)
	if c.st.failures >= c.cfg.MaxTranscriptionFailures {
		c.addMessage(ctx, Message{Sender: SenderBot, Text: msgGiveUp, Category: CategoryError})
		observe.Logger(ctx).InfoContext(ctx, "session: ending call", "err", ErrTranscriptionFailure)
		c.stop(ctx, "transcription_failures")
		return
	}
	c.addMessage(ctx, Message{Sender: SenderBot, Text: msgRepeat, Category: CategoryWarning})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (c *Controller) sessionCtx(ctx context.Context) context.Context {
	if c.st.sessionID == "" || observe.SessionID(ctx) == c.st.sessionID {
		return ctx
	}
	return observe.WithSessionID(ctx, c.st.sessionID)
}

func (c *Controller) setState(ctx context.Context, s State, text string) {
	if text == "" {
		text = s.StatusText()
	}
	if s == c.st.state && s != StateError {
		return
	}
	prev := c.st.state
	c.st.state = s
	c.metrics.RecordStateChange(ctx, s.String())
	observe.Logger(ctx).DebugContext(ctx, "session: state change", "from", prev, "to", s)
	c.listener.OnStatus(Status{State: s, Text: text})
}

func (c *Controller) addMessage(ctx context.Context, m Message) {
	c.st.transcript = append(c.st.transcript, m)
	observe.Logger(ctx).InfoContext(ctx, "session: message", "sender", m.Sender, "category", string(m.Category), "text", m.Text)
	c.listener.OnMessage(m)
}

type nopListener struct{}

func (nopListener) OnMessage(Message) {}
func (nopListener) OnStatus(Status)   {}
