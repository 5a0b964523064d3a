// Package vad implements the energy-based voice activity gate that decides
// which captured frames are forwarded to the remote agent.
//
// The gate normalizes each frame, accumulates the result into fixed-size
// analysis windows, and classifies each window by its peak amplitude. A
// window-level decision is smoothed by majority vote over a sliding history
// of recent windows. A frame is forwarded only when the last window that
// completed while processing it was voted speech; a frame that completes no
// window is never forwarded.
//
// A Gate is stateful and not safe for concurrent use. The session controller
// owns exactly one and calls it from its event loop.
package vad

import (
	"errors"
	"fmt"

	"github.com/MrWong99/rolecall/pkg/audio"
)

// Decision is the outcome of feeding one frame into the [Gate].
type Decision int

const (
	// DecisionPending means no analysis window completed during the frame.
	DecisionPending Decision = iota

	// DecisionSilence means the last completed window was voted non-speech.
	DecisionSilence

	// DecisionSpeech means the last completed window was voted speech.
	DecisionSpeech
)

// String returns the lowercase name of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionSilence:
		return "silence"
	case DecisionSpeech:
		return "speech"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Forward reports whether the frame should be sent upstream.
func (d Decision) Forward() bool { return d == DecisionSpeech }

// Config holds the gate parameters.
type Config struct {
	// WindowSamples is the analysis window length in samples.
	WindowSamples int `yaml:"window_samples"`

	// Threshold is the normalized peak above which a window counts as speech.
	Threshold float64 `yaml:"threshold"`

	// HistorySize is the number of recent window decisions kept for voting.
	HistorySize int `yaml:"history"`

	// MinVoiced is the number of speech windows in the history required to
	// vote speech.
	MinVoiced int `yaml:"min_voiced"`

	// TargetPeak is the level each frame's own peak is rescaled to before
	// windowing.
	TargetPeak float64 `yaml:"target_peak"`
}

// DefaultConfig returns the production parameters: 400ms windows at 24kHz,
// a 0.015 peak threshold, 7-of-10 voting and frames rescaled to a 0.5 peak.
func DefaultConfig() Config {
	return Config{
		WindowSamples: 9600,
		Threshold:     0.015,
		HistorySize:   10,
		MinVoiced:     7,
		TargetPeak:    0.5,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.WindowSamples <= 0 {
		errs = append(errs, fmt.Errorf("vad: window_samples must be positive, got %d", c.WindowSamples))
	}
	if c.Threshold < 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("vad: threshold must be in [0, 1), got %v", c.Threshold))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("vad: history_size must be positive, got %d", c.HistorySize))
	}
	if c.MinVoiced <= 0 || c.MinVoiced > c.HistorySize {
		errs = append(errs, fmt.Errorf("vad: min_voiced must be in [1, history_size], got %d", c.MinVoiced))
	}
	if c.TargetPeak <= 0 || c.TargetPeak > 1 {
		errs = append(errs, fmt.Errorf("vad: target_peak must be in (0, 1], got %v", c.TargetPeak))
	}
	return errors.Join(errs...)
}

// Gate is the stateful voice activity gate.
type Gate struct {
	cfg     Config
	pending []float32
	history []bool
	voiced  int
}

// New returns a Gate for cfg.
func New(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{
		cfg:     cfg,
		pending: make([]float32, 0, cfg.WindowSamples*2),
		history: make([]bool, 0, cfg.HistorySize),
	}, nil
}

// Scale normalizes samples to [-1, 1] and rescales them so their own peak
// equals target. An all-zero frame stays all zero.
func Scale(samples []int16, target float64) []float32 {
	x := audio.Normalize(samples)
	peak := audio.Peak(x)
	if peak == 0 {
		peak = 1
	}
	gain := float32(target) / peak
	for i := range x {
		x[i] *= gain
	}
	return x
}

// Process feeds one frame through the gate.
func (g *Gate) Process(samples []int16) Decision {
	g.pending = append(g.pending, Scale(samples, g.cfg.TargetPeak)...)

	decision := DecisionPending
	n := g.cfg.WindowSamples
	consumed := 0
	for len(g.pending)-consumed >= n {
		window := g.pending[consumed : consumed+n]
		consumed += n
		if g.vote(float64(audio.Peak(window)) > g.cfg.Threshold) {
			decision = DecisionSpeech
		} else {
			decision = DecisionSilence
		}
	}
	if consumed > 0 {
		rest := copy(g.pending, g.pending[consumed:])
		g.pending = g.pending[:rest]
	}
	return decision
}

// vote records one window classification and returns the majority decision.
func (g *Gate) vote(speech bool) bool {
	if len(g.history) == g.cfg.HistorySize {
		if g.history[0] {
			g.voiced--
		}
		g.history = append(g.history[:0], g.history[1:]...)
	}
	g.history = append(g.history, speech)
	if speech {
		g.voiced++
	}
	return g.voiced >= g.cfg.MinVoiced
}

// Reset clears buffered samples and the vote history.
func (g *Gate) Reset() {
	g.pending = g.pending[:0]
	g.history = g.history[:0]
	g.voiced = 0
}

// Buffered returns the number of samples waiting for the next window.
func (g *Gate) Buffered() int { return len(g.pending) }

// History returns a copy of the window decisions, oldest first.
func (g *Gate) History() []bool {
	out := make([]bool, len(g.history))
	copy(out, g.history)
	return out
}
