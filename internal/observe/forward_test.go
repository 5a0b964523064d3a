package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSender records every forwarded line.
type fakeSender struct {
	mu    sync.Mutex
	open  bool
	lines []string
}

func (s *fakeSender) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSender) SendLog(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return nil
}

func (s *fakeSender) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func waitLines(t *testing.T, s *fakeSender, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.Lines(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d forwarded lines, got %v", n, s.Lines())
	return nil
}

var fixedNow = func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }

func newTestForwarder(t *testing.T, s *fakeSender, opts ForwardOptions) *Forwarder {
	t.Helper()
	m, _ := newTestMetrics(t)
	opts.Metrics = m
	opts.Now = fixedNow
	f := NewForwarder(s, opts)
	t.Cleanup(f.Close)
	return f
}

func TestForwarder_RendersLines(t *testing.T) {
	t.Parallel()

	s := &fakeSender{open: true}
	f := newTestForwarder(t, s, ForwardOptions{})

	var local bytes.Buffer
	log := slog.New(f.Handler(slog.NewTextHandler(&local, nil)))
	log.With("template", "7").WithGroup("ws").Info("connected", "attempt", 2)

	lines := waitLines(t, s, 1)
	want := "[Client 2026-10-15T09:30:00Z] connected template=7 ws.attempt=2"
	if lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
	if !strings.Contains(local.String(), "msg=connected") {
		t.Errorf("inner handler did not receive the record: %q", local.String())
	}
}

func TestForwarder_Filters(t *testing.T) {
	t.Parallel()

	s := &fakeSender{open: true}
	f := newTestForwarder(t, s, ForwardOptions{Level: slog.LevelWarn})
	log := slog.New(f.Handler(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})))

	log.Info("below level")
	log.WarnContext(WithoutForwarding(context.Background()), "suppressed")
	log.Warn("kept")

	lines := waitLines(t, s, 1)
	time.Sleep(20 * time.Millisecond)
	lines = s.Lines()
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "] kept") {
		t.Errorf("forwarded %v, want only the kept line", lines)
	}
}

func TestForwarder_SkipsWhenClosed(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	f := newTestForwarder(t, s, ForwardOptions{})
	log := slog.New(f.Handler(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	log.Info("while disconnected")
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	log.Info("after connect")

	lines := waitLines(t, s, 1)
	time.Sleep(20 * time.Millisecond)
	if lines = s.Lines(); len(lines) != 1 || !strings.HasSuffix(lines[0], "after connect") {
		t.Errorf("forwarded %v", lines)
	}
}

func TestForwarder_RateLimits(t *testing.T) {
	t.Parallel()

	s := &fakeSender{open: true}
	f := newTestForwarder(t, s, ForwardOptions{Rate: 0.001, Burst: 3})
	log := slog.New(f.Handler(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	for range 10 {
		log.Info("storm")
	}
	waitLines(t, s, 3)
	time.Sleep(50 * time.Millisecond)
	if n := len(s.Lines()); n != 3 {
		t.Errorf("forwarded %d lines, want the burst of 3", n)
	}
}

func TestForwarder_CloseIdempotent(t *testing.T) {
	t.Parallel()

	f := NewForwarder(&fakeSender{}, ForwardOptions{Metrics: func() *Metrics { m, _ := newTestMetrics(t); return m }()})
	f.Close()
	f.Close()
}
