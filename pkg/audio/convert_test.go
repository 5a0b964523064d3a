package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/rolecall/pkg/audio"
)

func TestSamplesToBytes_LittleEndian(t *testing.T) {
	t.Parallel()
	got := audio.SamplesToBytes([]int16{1, -1, 0x1234})
	want := []byte{0x01, 0x00, 0xff, 0xff, 0x34, 0x12}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestBytesToSamples_RoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{math.MinInt16, -1, 0, 1, math.MaxInt16}
	got := audio.BytesToSamples(audio.SamplesToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
}

func TestBytesToSamples_OddLength(t *testing.T) {
	t.Parallel()
	got := audio.BytesToSamples([]byte{0x10, 0x00, 0x7f})
	if len(got) != 1 || got[0] != 16 {
		t.Errorf("got %v, want [16]", got)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	got := audio.Normalize([]int16{-32768, 0, 16384})
	want := []float32{-1, 0, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPeak(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []float32
		want float32
	}{
		{name: "empty", in: nil, want: 0},
		{name: "positive", in: []float32{0.1, 0.4, 0.2}, want: 0.4},
		{name: "negative wins", in: []float32{0.1, -0.7, 0.2}, want: 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.Peak(tt.in); got != tt.want {
				t.Errorf("Peak() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSamplesDuration(t *testing.T) {
	t.Parallel()
	if got := audio.SamplesDuration(audio.SampleRate); got.Seconds() != 1 {
		t.Errorf("SamplesDuration(SampleRate) = %v, want 1s", got)
	}
	f := audio.Frame{Samples: make([]int16, 2400)}
	if got := f.Duration().Milliseconds(); got != 100 {
		t.Errorf("Frame.Duration() = %dms, want 100ms", got)
	}
}
