package session

import (
	"sync"
	"time"
)

// defaultReconnectDelay is the fixed wait before redialling the agent.
const defaultReconnectDelay = 2 * time.Second

// Reconnector schedules reconnect attempts at a fixed delay.
//
// There is no backoff and no retry cap: every call to [Reconnector.Schedule]
// arms a single timer that fires after the configured delay. A fire is
// delivered on [Reconnector.C] tagged with the generation it was scheduled
// under; the receiver must call [Reconnector.Claim] and discard the fire if
// it returns false. [Reconnector.Cancel] invalidates any pending or in-flight
// fire, so a stop that races the timer always wins.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	delay time.Duration
	fires chan uint64
	done  chan struct{}

	mu        sync.Mutex
	timer     *time.Timer
	gen       uint64
	pending   bool
	attempts  int
	closeOnce sync.Once
}

// NewReconnector returns a Reconnector that waits delay before each attempt.
// A non-positive delay selects the 2 s default.
func NewReconnector(delay time.Duration) *Reconnector {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &Reconnector{
		delay: delay,
		fires: make(chan uint64),
		done:  make(chan struct{}),
	}
}

// Delay returns the fixed reconnect delay.
func (r *Reconnector) Delay() time.Duration { return r.delay }

// C delivers the generation of each timer that fired.
func (r *Reconnector) C() <-chan uint64 { return r.fires }

// Schedule arms the timer, replacing any pending one, and returns the
// generation the fire will carry.
func (r *Reconnector) Schedule() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()
	r.gen++
	r.pending = true
	r.attempts++
	gen := r.gen
	r.timer = time.AfterFunc(r.delay, func() {
		select {
		case r.fires <- gen:
		case <-r.done:
		}
	})
	return gen
}

// Claim reports whether a fire of gen is still wanted and, if so, marks it
// consumed.
func (r *Reconnector) Claim(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending || gen != r.gen {
		return false
	}
	r.pending = false
	r.timer = nil
	return true
}

// Cancel disarms the pending timer. A fire already in flight is invalidated.
func (r *Reconnector) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.gen++
	r.pending = false
}

// Pending reports whether a reconnect is scheduled and not yet claimed.
func (r *Reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Attempts returns the number of reconnects scheduled since the last
// [Reconnector.ResetAttempts].
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// ResetAttempts zeroes the attempt counter, typically after a successful
// connect.
func (r *Reconnector) ResetAttempts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
}

// Close cancels any pending timer and releases timer goroutines blocked on
// delivery. Safe to call multiple times.
func (r *Reconnector) Close() {
	r.Cancel()
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Reconnector) stopLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
