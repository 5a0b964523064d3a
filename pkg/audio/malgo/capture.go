// Package malgo captures microphone audio through miniaudio (via
// github.com/gen2brain/malgo) and exposes it as an [audio.FrameSource].
//
// The device is opened mono, signed 16-bit, at [audio.SampleRate]; miniaudio
// converts from whatever the hardware supports. Driver periods are regrouped
// into [audio.FrameSamples]-sized frames by an [audio.Blocker].
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/rolecall/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.FrameSource = (*Capture)(nil)

// Option is a functional option for [New].
type Option func(*Capture)

// WithDevice selects the capture device whose name contains name
// (case-insensitive). The system default is used when empty or unmatched.
func WithDevice(name string) Option {
	return func(c *Capture) { c.deviceName = name }
}

// WithPeriod sets the driver period in milliseconds. Smaller periods reduce
// latency at the cost of more callbacks.
func WithPeriod(ms uint32) Option {
	return func(c *Capture) {
		if ms > 0 {
			c.periodMS = ms
		}
	}
}

// WithFrameSamples overrides the emitted frame size.
func WithFrameSamples(n int) Option {
	return func(c *Capture) {
		if n > 0 {
			c.frameSamples = n
		}
	}
}

// Capture is a malgo-backed [audio.FrameSource]. Safe for concurrent use.
type Capture struct {
	deviceName   string
	periodMS     uint32
	frameSamples int

	mu      sync.Mutex
	mctx    *ma.AllocatedContext
	device  *ma.Device
	blocker *audio.Blocker
	cb      func(audio.Frame)
	running bool
}

// New returns a Capture. No device is touched until [Capture.Begin].
func New(opts ...Option) *Capture {
	c := &Capture{
		periodMS:     20,
		frameSamples: audio.FrameSamples,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Begin opens the capture device. Calling Begin on an open source is a no-op.
func (c *Capture) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return nil
	}

	mctx, err := ma.InitContext(nil, ma.ContextConfig{ThreadPriority: ma.ThreadPriorityRealtime}, nil)
	if err != nil {
		return fmt.Errorf("%w: init context: %w", audio.ErrDeviceUnavailable, err)
	}

	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatS16
	cfg.Capture.Channels = audio.Channels
	cfg.SampleRate = audio.SampleRate
	cfg.PeriodSizeInMilliseconds = c.periodMS

	if c.deviceName != "" {
		info, ok, err := findDevice(mctx, c.deviceName)
		switch {
		case err != nil:
			slog.Warn("malgo: list capture devices failed, using default", "err", err)
		case !ok:
			slog.Warn("malgo: capture device not found, using default", "device", c.deviceName)
		default:
			cfg.Capture.DeviceID = info.ID.Pointer()
		}
	}

	device, err := ma.InitDevice(mctx.Context, cfg, ma.DeviceCallbacks{Data: c.onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: init device: %w", audio.ErrDeviceUnavailable, err)
	}

	c.mctx = mctx
	c.device = device
	c.blocker = audio.NewBlocker(c.frameSamples)
	slog.Debug("malgo: capture device opened", "device", c.deviceName, "sampleRate", audio.SampleRate)
	return nil
}

// Record starts the device and routes frames to cb.
func (c *Capture) Record(cb func(audio.Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return audio.ErrNotStarted
	}
	c.cb = cb
	if c.running {
		return nil
	}
	if err := c.device.Start(); err != nil {
		c.cb = nil
		return fmt.Errorf("malgo: start device: %w", err)
	}
	c.running = true
	return nil
}

// Pause stops the device without releasing it. Buffered samples that did
// not yet fill a frame are discarded.
func (c *Capture) Pause() error {
	c.mu.Lock()
	device := c.device
	running := c.running
	c.cb = nil
	c.running = false
	if c.blocker != nil {
		c.blocker.Reset()
	}
	c.mu.Unlock()

	if device == nil || !running {
		return nil
	}
	if err := device.Stop(); err != nil {
		return fmt.Errorf("malgo: stop device: %w", err)
	}
	return nil
}

// End stops the device and releases it together with the malgo context.
func (c *Capture) End() error {
	c.mu.Lock()
	device, mctx := c.device, c.mctx
	c.device, c.mctx, c.cb, c.blocker = nil, nil, nil, nil
	c.running = false
	c.mu.Unlock()

	if device == nil {
		return nil
	}
	// Uninit stops the device and waits for an in-flight callback, so it
	// must run without c.mu held.
	device.Uninit()
	var err error
	if mctx != nil {
		err = mctx.Uninit()
		mctx.Free()
	}
	return err
}

// onData runs on the miniaudio thread.
func (c *Capture) onData(_, input []byte, _ uint32) {
	samples := audio.BytesToSamples(input)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cb == nil || c.blocker == nil {
		return
	}
	c.blocker.Push(samples, c.cb)
}

// Device describes one capture device.
type Device struct {
	Name    string
	Default bool
}

// ListCaptureDevices enumerates the capture devices visible to miniaudio.
func ListCaptureDevices() ([]Device, error) {
	mctx, err := ma.InitContext(nil, ma.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %w", audio.ErrDeviceUnavailable, err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(ma.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo: list devices: %w", err)
	}
	out := make([]Device, 0, len(infos))
	for _, info := range infos {
		out = append(out, Device{Name: info.Name(), Default: info.IsDefault != 0})
	}
	return out, nil
}

var errNoDevices = errors.New("malgo: no capture devices")

func findDevice(mctx *ma.AllocatedContext, name string) (ma.DeviceInfo, bool, error) {
	infos, err := mctx.Devices(ma.Capture)
	if err != nil {
		return ma.DeviceInfo{}, false, err
	}
	if len(infos) == 0 {
		return ma.DeviceInfo{}, false, errNoDevices
	}
	if i := matchDevice(deviceNames(infos), name); i >= 0 {
		return infos[i], true, nil
	}
	return ma.DeviceInfo{}, false, nil
}

func deviceNames(infos []ma.DeviceInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names
}

// matchDevice returns the index of the first name containing want,
// case-insensitively, or -1.
func matchDevice(names []string, want string) int {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return -1
	}
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), want) {
			return i
		}
	}
	return -1
}
