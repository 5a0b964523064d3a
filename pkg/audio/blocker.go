package audio

import "time"

// Blocker regroups an arbitrary stream of samples into frames of a fixed
// size. Device callbacks deliver whatever period size the driver picked;
// Blocker turns that into [FrameSamples]-sized frames.
//
// A Blocker is not safe for concurrent use.
type Blocker struct {
	size    int
	pending []int16
	emitted int
}

// NewBlocker returns a Blocker emitting frames of size samples. A
// non-positive size selects [FrameSamples].
func NewBlocker(size int) *Blocker {
	if size <= 0 {
		size = FrameSamples
	}
	return &Blocker{size: size, pending: make([]int16, 0, size)}
}

// Push appends samples and calls emit once for every completed frame.
// Leftover samples are kept for the next call.
func (b *Blocker) Push(samples []int16, emit func(Frame)) {
	for len(samples) > 0 {
		n := min(b.size-len(b.pending), len(samples))
		b.pending = append(b.pending, samples[:n]...)
		samples = samples[n:]
		if len(b.pending) < b.size {
			return
		}
		frame := Frame{
			Samples:   b.pending,
			Timestamp: SamplesDuration(b.emitted),
		}
		b.emitted += b.size
		b.pending = make([]int16, 0, b.size)
		emit(frame)
	}
}

// Reset drops buffered samples and restarts the timestamp clock.
func (b *Blocker) Reset() {
	b.pending = b.pending[:0]
	b.emitted = 0
}

// Buffered reports how many samples are waiting for the next frame.
func (b *Blocker) Buffered() int { return len(b.pending) }

// Elapsed reports the capture time covered by emitted frames.
func (b *Blocker) Elapsed() time.Duration { return SamplesDuration(b.emitted) }
