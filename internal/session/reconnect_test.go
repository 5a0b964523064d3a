package session

import (
	"testing"
	"time"
)

// awaitFire waits for one fire from r or fails after d.
func awaitFire(t *testing.T, r *Reconnector, d time.Duration) (uint64, bool) {
	t.Helper()
	select {
	case gen := <-r.C():
		return gen, true
	case <-time.After(d):
		return 0, false
	}
}

func TestReconnector_Defaults(t *testing.T) {
	t.Parallel()

	r := NewReconnector(0)
	defer r.Close()
	if r.Delay() != 2*time.Second {
		t.Errorf("expected default delay=2s, got %v", r.Delay())
	}
	if r.Pending() {
		t.Error("new reconnector should not be pending")
	}
}

func TestReconnector_FiresAfterDelay(t *testing.T) {
	t.Parallel()

	r := NewReconnector(20 * time.Millisecond)
	defer r.Close()

	start := time.Now()
	gen := r.Schedule()
	got, ok := awaitFire(t, r, time.Second)
	if !ok {
		t.Fatal("timer never fired")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("fired after %v, want >= 20ms", elapsed)
	}
	if got != gen {
		t.Errorf("fire generation = %d, want %d", got, gen)
	}
	if !r.Claim(got) {
		t.Error("Claim of current fire returned false")
	}
	if r.Claim(got) {
		t.Error("second Claim of the same fire returned true")
	}
	if r.Pending() {
		t.Error("still pending after claim")
	}
}

func TestReconnector_CancelSuppressesFire(t *testing.T) {
	t.Parallel()

	r := NewReconnector(20 * time.Millisecond)
	defer r.Close()

	r.Schedule()
	r.Cancel()
	if gen, ok := awaitFire(t, r, 100*time.Millisecond); ok {
		t.Fatalf("cancelled timer fired with generation %d", gen)
	}
}

func TestReconnector_CancelInvalidatesInFlightFire(t *testing.T) {
	t.Parallel()

	r := NewReconnector(time.Millisecond)
	defer r.Close()

	gen := r.Schedule()
	// Let the timer fire and block on delivery, then cancel before reading.
	time.Sleep(20 * time.Millisecond)
	r.Cancel()

	got, ok := awaitFire(t, r, time.Second)
	if !ok {
		t.Fatal("in-flight fire was not delivered")
	}
	if got != gen {
		t.Errorf("fire generation = %d, want %d", got, gen)
	}
	if r.Claim(got) {
		t.Error("Claim after Cancel returned true")
	}
}

func TestReconnector_RescheduleReplacesTimer(t *testing.T) {
	t.Parallel()

	r := NewReconnector(30 * time.Millisecond)
	defer r.Close()

	first := r.Schedule()
	second := r.Schedule()
	if first == second {
		t.Fatal("reschedule kept the same generation")
	}

	got, ok := awaitFire(t, r, time.Second)
	if !ok {
		t.Fatal("timer never fired")
	}
	if got != second || !r.Claim(got) {
		t.Errorf("fire = %d, want claimable %d", got, second)
	}
	if gen, ok := awaitFire(t, r, 80*time.Millisecond); ok {
		t.Errorf("replaced timer also fired (generation %d)", gen)
	}
}

func TestReconnector_Attempts(t *testing.T) {
	t.Parallel()

	r := NewReconnector(time.Hour)
	defer r.Close()

	for range 3 {
		r.Schedule()
	}
	if got := r.Attempts(); got != 3 {
		t.Errorf("Attempts() = %d, want 3", got)
	}
	r.ResetAttempts()
	if got := r.Attempts(); got != 0 {
		t.Errorf("Attempts() after reset = %d, want 0", got)
	}
}

func TestReconnector_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewReconnector(time.Millisecond)
	r.Schedule()
	time.Sleep(10 * time.Millisecond)
	r.Close()
	r.Close()
	if r.Pending() {
		t.Error("pending after Close")
	}
}
