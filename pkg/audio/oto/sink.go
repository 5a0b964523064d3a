// Package oto plays PCM through the system speaker using
// github.com/ebitengine/oto/v3. It implements [audio.Sink].
package oto

import (
	"context"
	"errors"
	"fmt"
	"sync"

	oto3 "github.com/ebitengine/oto/v3"

	"github.com/MrWong99/rolecall/pkg/audio"
)

// ErrClosed is returned by [Sink.Write] after [Sink.Close].
var ErrClosed = errors.New("oto: sink closed")

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// defaultBufferBytes is 100ms of mono 16-bit audio at 24kHz.
const defaultBufferBytes = audio.SampleRate / 10 * audio.BytesPerSample

// Sink streams PCM to an oto player. Writes block while more than the
// configured amount of audio is waiting to be pulled by the player.
type Sink struct {
	otoCtx   *oto3.Context
	maxBytes int

	mu     sync.Mutex
	player *oto3.Player
	buf    []byte
	closed bool

	space chan struct{}
	done  chan struct{}
}

// Option configures a [Sink].
type Option func(*options)

type options struct {
	bufferBytes int
}

// WithBufferBytes sets both the oto device buffer and the pacing threshold.
func WithBufferBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferBytes = n
		}
	}
}

// New creates the oto context and returns a Sink. Only one oto context may
// exist per process.
func New(opts ...Option) (*Sink, error) {
	o := options{bufferBytes: defaultBufferBytes}
	for _, opt := range opts {
		opt(&o)
	}

	otoCtx, ready, err := oto3.NewContext(&oto3.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: audio.Channels,
		Format:       oto3.FormatSignedInt16LE,
		BufferSize:   audio.SamplesDuration(o.bufferBytes / audio.BytesPerSample),
	})
	if err != nil {
		return nil, fmt.Errorf("oto: new context: %w", err)
	}
	<-ready

	return &Sink{
		otoCtx:   otoCtx,
		maxBytes: o.bufferBytes,
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Write implements [audio.Sink].
func (s *Sink) Write(ctx context.Context, samples []int16) error {
	data := audio.SamplesToBytes(samples)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		if len(s.buf) == 0 || len(s.buf)+len(data) <= s.maxBytes {
			s.buf = append(s.buf, data...)
			if s.player == nil {
				s.player = s.otoCtx.NewPlayer(stream{s})
				s.player.Play()
			}
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		case <-s.space:
		}
	}
}

// Flush implements [audio.Sink]. The current player is paused and discarded
// so its internal buffer is never heard; the next Write starts a fresh one.
func (s *Sink) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		_ = player.Close()
	}
	s.signal()
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	player := s.player
	s.player = nil
	s.buf = nil
	close(s.done)
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		return player.Close()
	}
	return nil
}

// read fills p from the pending buffer and pads with silence so the player
// never starves.
func (s *Sink) read(p []byte) int {
	s.mu.Lock()
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	s.mu.Unlock()
	clear(p[n:])
	if n > 0 {
		s.signal()
	}
	return len(p)
}

func (s *Sink) signal() {
	select {
	case s.space <- struct{}{}:
	default:
	}
}

// stream is the io.Reader handed to oto.
type stream struct{ s *Sink }

func (r stream) Read(p []byte) (int, error) { return r.s.read(p), nil }
