package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/rolecall/pkg/audio"
)

func TestBlocker_EmitsFixedFrames(t *testing.T) {
	t.Parallel()

	b := audio.NewBlocker(4)
	var frames []audio.Frame
	emit := func(f audio.Frame) { frames = append(frames, f) }

	b.Push([]int16{1, 2, 3}, emit)
	if len(frames) != 0 {
		t.Fatalf("emitted %d frames before a full block", len(frames))
	}
	if b.Buffered() != 3 {
		t.Errorf("Buffered() = %d, want 3", b.Buffered())
	}

	b.Push([]int16{4, 5, 6, 7, 8, 9}, emit)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	want := [][]int16{{1, 2, 3, 4}, {5, 6, 7, 8}}
	for i, f := range frames {
		for j, s := range want[i] {
			if f.Samples[j] != s {
				t.Errorf("frame %d sample %d: got %d, want %d", i, j, f.Samples[j], s)
			}
		}
	}
	if b.Buffered() != 1 {
		t.Errorf("Buffered() = %d, want 1", b.Buffered())
	}
}

func TestBlocker_Timestamps(t *testing.T) {
	t.Parallel()

	b := audio.NewBlocker(2400)
	var stamps []time.Duration
	b.Push(make([]int16, 2400*3), func(f audio.Frame) { stamps = append(stamps, f.Timestamp) })

	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond}
	if len(stamps) != len(want) {
		t.Fatalf("got %d frames, want %d", len(stamps), len(want))
	}
	for i := range want {
		if stamps[i] != want[i] {
			t.Errorf("frame %d timestamp = %v, want %v", i, stamps[i], want[i])
		}
	}
	if b.Elapsed() != 300*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 300ms", b.Elapsed())
	}
}

func TestBlocker_FramesDoNotAlias(t *testing.T) {
	t.Parallel()

	b := audio.NewBlocker(2)
	var frames []audio.Frame
	b.Push([]int16{1, 2, 3, 4}, func(f audio.Frame) { frames = append(frames, f) })
	frames[0].Samples[0] = 99
	if frames[1].Samples[0] != 3 {
		t.Errorf("second frame modified through first: %v", frames[1].Samples)
	}
}

func TestBlocker_Reset(t *testing.T) {
	t.Parallel()

	b := audio.NewBlocker(0)
	b.Push(make([]int16, audio.FrameSamples+10), func(audio.Frame) {})
	b.Reset()
	if b.Buffered() != 0 || b.Elapsed() != 0 {
		t.Errorf("after Reset: Buffered=%d Elapsed=%v", b.Buffered(), b.Elapsed())
	}

	var got int
	b.Push(make([]int16, audio.FrameSamples), func(f audio.Frame) { got = len(f.Samples) })
	if got != audio.FrameSamples {
		t.Errorf("frame size = %d, want %d", got, audio.FrameSamples)
	}
}
