package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvServerURL   = "ROLECALL_SERVER_URL"
	EnvTemplateID  = "ROLECALL_TEMPLATE_ID"
	EnvLogLevel    = "ROLECALL_LOG_LEVEL"
	EnvMetricsAddr = "ROLECALL_METRICS_ADDR"
	EnvLogForward  = "ROLECALL_LOG_FORWARD"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with environment overrides applied. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
			return nil, err
		}
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], applies
// environment overrides and validates the result. An empty document is
// valid and yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvServerURL); ok && v != "" {
		cfg.Server.URL = v
	}
	if v, ok := lookup(EnvTemplateID); ok && v != "" {
		cfg.Session.TemplateID = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = LogLevel(v)
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		cfg.Telemetry.MetricsAddr = v
	}
	if v, ok := lookup(EnvLogForward); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvLogForward, err)
		}
		cfg.Log.Forward = b
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(cfg.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url %q is invalid: %w", cfg.Server.URL, err))
	} else {
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			errs = append(errs, fmt.Errorf("server.url scheme %q is invalid; valid values: ws, wss, http, https", u.Scheme))
		}
	}
	if cfg.Server.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.dial_timeout must not be negative, got %v", cfg.Server.DialTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must not be negative, got %v", cfg.Server.WriteTimeout))
	}

	// Session
	if cfg.Session.TemplateID == "" {
		errs = append(errs, errors.New("session.template_id is required"))
	}
	if cfg.Session.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("session.reconnect_delay must not be negative, got %v", cfg.Session.ReconnectDelay))
	}
	if cfg.Session.MaxTranscriptionFailures < 1 {
		errs = append(errs, fmt.Errorf("session.max_transcription_failures must be at least 1, got %d", cfg.Session.MaxTranscriptionFailures))
	}

	// Audio
	if cfg.Audio.SampleRate != 24000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be 24000, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples must be positive, got %d", cfg.Audio.FrameSamples))
	}
	if cfg.Audio.PlaybackBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_buffer must not be negative, got %v", cfg.Audio.PlaybackBuffer))
	}

	// VAD
	if err := cfg.VAD.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Log
	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json, pretty", cfg.Log.Format))
	}
	if cfg.Log.ForwardRate < 0 {
		errs = append(errs, fmt.Errorf("log.forward_rate must not be negative, got %v", cfg.Log.ForwardRate))
	}
	if cfg.Log.ForwardBurst < 0 {
		errs = append(errs, fmt.Errorf("log.forward_burst must not be negative, got %d", cfg.Log.ForwardBurst))
	}

	return errors.Join(errs...)
}
