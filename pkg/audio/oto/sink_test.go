package oto

import (
	"context"
	"errors"
	"testing"
	"time"
)

// newTestSink builds a Sink without an oto context. Tests only exercise
// paths that never create a player.
func newTestSink(maxBytes int) *Sink {
	return &Sink{
		maxBytes: maxBytes,
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func TestSink_ReadPadsWithSilence(t *testing.T) {
	t.Parallel()

	s := newTestSink(16)
	s.buf = []byte{1, 2, 3, 4}

	p := []byte{9, 9, 9, 9, 9, 9}
	if n := s.read(p); n != len(p) {
		t.Fatalf("read() = %d, want %d", n, len(p))
	}
	want := []byte{1, 2, 3, 4, 0, 0}
	for i := range want {
		if p[i] != want[i] {
			t.Errorf("byte %d: got %d, want %d", i, p[i], want[i])
		}
	}
	if len(s.buf) != 0 {
		t.Errorf("buffer not drained: %d bytes left", len(s.buf))
	}
}

func TestSink_WriteBlocksUntilCancelled(t *testing.T) {
	t.Parallel()

	s := newTestSink(4)
	s.buf = []byte{1, 2, 3, 4}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Write(ctx, []int16{1, 2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Write() error = %v, want DeadlineExceeded", err)
	}
}

func TestSink_FlushDiscardsBuffer(t *testing.T) {
	t.Parallel()

	s := newTestSink(8)
	s.buf = []byte{1, 2, 3, 4}
	s.Flush()
	if len(s.buf) != 0 {
		t.Errorf("Flush left %d bytes", len(s.buf))
	}
}

func TestSink_WriteAfterClose(t *testing.T) {
	t.Parallel()

	s := newTestSink(8)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := s.Write(context.Background(), []int16{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() error = %v, want ErrClosed", err)
	}
}

func TestSink_CloseWakesBlockedWriter(t *testing.T) {
	t.Parallel()

	s := newTestSink(2)
	s.buf = []byte{1, 2}

	errc := make(chan error, 1)
	go func() { errc <- s.Write(context.Background(), []int16{5}) }()

	time.Sleep(10 * time.Millisecond)
	_ = s.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Write() error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Write did not return after Close")
	}
}
