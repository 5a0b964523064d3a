// Package config provides the configuration schema and loader for rolecall.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/rolecall/pkg/vad"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the corresponding [slog.Level]. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the console log handler.
type LogFormat string

const (
	// FormatText is the slog key=value text handler.
	FormatText LogFormat = "text"

	// FormatJSON is the slog JSON handler.
	FormatJSON LogFormat = "json"

	// FormatPretty is a colourised console handler.
	FormatPretty LogFormat = "pretty"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case FormatText, FormatJSON, FormatPretty:
		return true
	}
	return false
}

// Config is the root configuration structure for rolecall.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       vad.Config      `yaml:"vad"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig addresses the remote agent.
type ServerConfig struct {
	// URL is the stream base URL; the template ID is appended as the last
	// path segment (e.g. "ws://localhost:8000/stream").
	URL string `yaml:"url"`

	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// WriteTimeout bounds each outbound message.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SessionConfig holds conversation settings.
type SessionConfig struct {
	// TemplateID selects the agent's conversation template.
	TemplateID string `yaml:"template_id"`

	// ReconnectDelay is the fixed wait before redialling after a channel
	// failure.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// MaxTranscriptionFailures ends the call after this many consecutive
	// failed user transcriptions.
	MaxTranscriptionFailures int `yaml:"max_transcription_failures"`
}

// AudioConfig configures the capture and playback devices.
type AudioConfig struct {
	// SampleRate must be 24000; it is configurable only so a mismatch with
	// the agent fails loudly at startup.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the capture block size.
	FrameSamples int `yaml:"frame_samples"`

	// CaptureDevice selects a microphone by (partial) name. Empty selects the
	// system default.
	CaptureDevice string `yaml:"capture_device"`

	// PlaybackBuffer is the output device buffer length.
	PlaybackBuffer time.Duration `yaml:"playback_buffer"`
}

// LogConfig controls local logging and forwarding to the agent.
type LogConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`

	// Forward mirrors log lines to the agent as log messages.
	Forward bool `yaml:"forward"`

	// ForwardRate is the sustained number of forwarded lines per second.
	ForwardRate float64 `yaml:"forward_rate"`

	// ForwardBurst is the number of lines that may be forwarded at once.
	ForwardBurst int `yaml:"forward_burst"`
}

// TelemetryConfig configures the metrics and health endpoint.
type TelemetryConfig struct {
	// MetricsAddr is the listen address for /metrics, /healthz and /readyz.
	// Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// ServiceName is reported as the OpenTelemetry service.name.
	ServiceName string `yaml:"service_name"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:          "ws://localhost:8000/stream",
			DialTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			TemplateID:               "1",
			ReconnectDelay:           2 * time.Second,
			MaxTranscriptionFailures: 3,
		},
		Audio: AudioConfig{
			SampleRate:     24000,
			FrameSamples:   8192,
			PlaybackBuffer: 100 * time.Millisecond,
		},
		VAD: vad.DefaultConfig(),
		Log: LogConfig{
			Level:        LogInfo,
			Format:       FormatText,
			Forward:      true,
			ForwardRate:  20,
			ForwardBurst: 40,
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: ":9464",
			ServiceName: "rolecall",
		},
	}
}

// ApplyDefaults fills zero-valued fields of cfg from [Default]. Booleans are
// left alone; they take their default only through [LoadFromReader].
func ApplyDefaults(cfg *Config) {
	def := Default()
	setString(&cfg.Server.URL, def.Server.URL)
	setDuration(&cfg.Server.DialTimeout, def.Server.DialTimeout)
	setDuration(&cfg.Server.WriteTimeout, def.Server.WriteTimeout)

	setString(&cfg.Session.TemplateID, def.Session.TemplateID)
	setDuration(&cfg.Session.ReconnectDelay, def.Session.ReconnectDelay)
	setInt(&cfg.Session.MaxTranscriptionFailures, def.Session.MaxTranscriptionFailures)

	setInt(&cfg.Audio.SampleRate, def.Audio.SampleRate)
	setInt(&cfg.Audio.FrameSamples, def.Audio.FrameSamples)
	setDuration(&cfg.Audio.PlaybackBuffer, def.Audio.PlaybackBuffer)

	setInt(&cfg.VAD.WindowSamples, def.VAD.WindowSamples)
	setFloat(&cfg.VAD.Threshold, def.VAD.Threshold)
	setInt(&cfg.VAD.HistorySize, def.VAD.HistorySize)
	setInt(&cfg.VAD.MinVoiced, def.VAD.MinVoiced)
	setFloat(&cfg.VAD.TargetPeak, def.VAD.TargetPeak)

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	setFloat(&cfg.Log.ForwardRate, def.Log.ForwardRate)
	setInt(&cfg.Log.ForwardBurst, def.Log.ForwardBurst)

	setString(&cfg.Telemetry.ServiceName, def.Telemetry.ServiceName)
}

func setString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if *dst == 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}
