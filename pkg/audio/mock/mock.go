// Package mock provides in-memory mock implementations of [audio.FrameSource]
// and [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	_ = src.Begin(ctx)
//	_ = src.Record(func(f audio.Frame) { ... })
//	src.Emit(audio.Frame{Samples: make([]int16, audio.FrameSamples)})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/rolecall/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.FrameSource]. Frames are injected
// by the test through [Source.Emit].
type Source struct {
	mu sync.Mutex

	// BeginErr is returned by [Source.Begin] when non-nil.
	BeginErr error

	// RecordErr is returned by [Source.Record] when non-nil.
	RecordErr error

	// BeginCalls, RecordCalls, PauseCalls and EndCalls count invocations.
	BeginCalls  int
	RecordCalls int
	PauseCalls  int
	EndCalls    int

	started bool
	cb      func(audio.Frame)
}

// Begin implements [audio.FrameSource].
func (s *Source) Begin(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BeginCalls++
	if s.BeginErr != nil {
		return s.BeginErr
	}
	s.started = true
	return nil
}

// Record implements [audio.FrameSource]. The callback is stored and invoked
// by [Source.Emit].
func (s *Source) Record(cb func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecordCalls++
	if s.RecordErr != nil {
		return s.RecordErr
	}
	if !s.started {
		return audio.ErrNotStarted
	}
	s.cb = cb
	return nil
}

// Pause implements [audio.FrameSource].
func (s *Source) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PauseCalls++
	s.cb = nil
	return nil
}

// End implements [audio.FrameSource].
func (s *Source) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndCalls++
	s.started = false
	s.cb = nil
	return nil
}

// Emit delivers f to the registered callback. It reports whether a callback
// was registered.
func (s *Source) Emit(f audio.Frame) bool {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(f)
	return true
}

// Recording reports whether a callback is currently registered.
func (s *Source) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb != nil
}

// Calls returns a snapshot of the call counters as begin, record, pause, end.
func (s *Source) Calls() (begin, record, pause, end int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.BeginCalls, s.RecordCalls, s.PauseCalls, s.EndCalls
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. Every accepted sample is
// appended to an internal buffer that tests inspect through [Sink.Written].
type Sink struct {
	mu sync.Mutex

	// WriteDelay makes each Write wait this long (or until ctx is done)
	// before accepting the samples, simulating device pacing.
	WriteDelay time.Duration

	// WriteErr is returned by [Sink.Write] when non-nil.
	WriteErr error

	written    []int16
	writes     int
	flushCalls int
	closeCalls int
}

// Write implements [audio.Sink].
func (s *Sink) Write(ctx context.Context, samples []int16) error {
	s.mu.Lock()
	delay, werr := s.WriteDelay, s.WriteErr
	s.mu.Unlock()

	if werr != nil {
		return werr
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, samples...)
	s.writes++
	return nil
}

// Flush implements [audio.Sink]. It only counts the call; samples already
// recorded stay visible to [Sink.Written].
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushCalls++
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

// Written returns a copy of every sample accepted so far.
func (s *Sink) Written() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int16, len(s.written))
	copy(out, s.written)
	return out
}

// Writes returns the number of accepted Write calls.
func (s *Sink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FlushCalls returns the number of Flush calls.
func (s *Sink) FlushCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushCalls
}

// CloseCalls returns the number of Close calls.
func (s *Sink) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

var (
	_ audio.FrameSource = (*Source)(nil)
	_ audio.Sink        = (*Sink)(nil)
)
