package audio

import "time"

const (
	// SampleRate is the rate of every stream handled by rolecall, in Hz.
	// Captured and played audio are both mono 16-bit PCM at this rate.
	SampleRate = 24000

	// Channels is the channel count of every stream. Always mono.
	Channels = 1

	// BytesPerSample is the size of one signed 16-bit little-endian sample.
	BytesPerSample = 2

	// FrameSamples is the number of samples delivered per capture callback.
	FrameSamples = 8192
)

// Frame is one fixed-size block of captured microphone audio.
type Frame struct {
	// Samples holds mono PCM at [SampleRate]. The slice is owned by the
	// receiver once delivered.
	Samples []int16

	// Timestamp is the capture position of the first sample, relative to
	// the start of the current recording.
	Timestamp time.Duration
}

// Duration returns the wall-clock length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples))
}

// SamplesDuration converts a sample count at [SampleRate] to a duration.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
