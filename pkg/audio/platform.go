// Package audio defines the device-facing audio abstractions of rolecall.
//
// Two interfaces sit at the boundary to the sound hardware:
//
//   - [FrameSource] delivers fixed-size microphone [Frame]s through a callback.
//   - [Sink] accepts PCM for the speaker and can discard whatever it has
//     buffered but not yet played.
//
// Implementations live in backend packages (audio/malgo for capture,
// audio/oto for playback, audio/mock for tests). This package lives under
// pkg/ because the session controller only depends on these interfaces.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned by [FrameSource.Begin] when no capture
// device can be opened, for example because permission was denied or the
// device is missing.
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// ErrNotStarted is returned when a [FrameSource] operation requires a prior
// successful Begin.
var ErrNotStarted = errors.New("audio: source not started")

// FrameSource captures microphone audio and delivers it as fixed-size frames.
//
// The lifecycle is Begin, Record, optionally Pause, then End. End releases
// the device; a later Begin reopens it. Implementations must be safe for
// concurrent use and must not invoke the callback after End returns.
type FrameSource interface {
	// Begin opens the capture device. It fails with an error wrapping
	// [ErrDeviceUnavailable] when the device cannot be opened.
	Begin(ctx context.Context) error

	// Record starts delivering frames of exactly [FrameSamples] samples to cb.
	// cb is called on the device goroutine and must not block.
	Record(cb func(Frame)) error

	// Pause stops delivery without releasing the device.
	Pause() error

	// End stops delivery and releases the device. Calling End on a source
	// that was never started is a no-op.
	End() error
}

// Sink is the speaker side. Write blocks until the samples have been
// accepted by the device buffer, which paces the caller at playback speed.
type Sink interface {
	// Write hands samples to the device. It returns ctx.Err() if ctx is
	// cancelled before the samples are accepted.
	Write(ctx context.Context, samples []int16) error

	// Flush discards everything accepted but not yet audible.
	Flush()

	// Close releases the device.
	Close() error
}
