package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/rolecall/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "bad scheme",
			yaml: "server:\n  url: ftp://agent/stream\n",
			want: []string{"server.url scheme"},
		},
		{
			name: "zero values fall back to defaults",
			yaml: "session:\n  template_id: \"\"\n  max_transcription_failures: 0\n",
		},
		{
			name: "negative durations",
			yaml: "server:\n  dial_timeout: -1s\nsession:\n  reconnect_delay: -2s\n",
			want: []string{"server.dial_timeout", "session.reconnect_delay"},
		},
		{
			name: "wrong sample rate",
			yaml: "audio:\n  sample_rate: 16000\n",
			want: []string{"audio.sample_rate must be 24000"},
		},
		{
			name: "vad out of range",
			yaml: "vad:\n  history: 5\n  min_voiced: 7\n",
			want: []string{"min_voiced"},
		},
		{
			name: "log level and format",
			yaml: "log:\n  level: verbose\n  format: xml\n",
			want: []string{"log.level", "log.format"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: \":8080\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_addr") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rolecall.yaml")
	writeFile(t, path, sampleYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.TemplateID != "42" {
		t.Errorf("template_id = %q", cfg.Session.TemplateID)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		config.EnvServerURL:   "ws://10.0.0.2:8000/stream",
		config.EnvTemplateID:  "99",
		config.EnvLogLevel:    "warn",
		config.EnvMetricsAddr: "",
		config.EnvLogForward:  "false",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := config.Default()
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Server.URL != "ws://10.0.0.2:8000/stream" {
		t.Errorf("server.url = %q", cfg.Server.URL)
	}
	if cfg.Session.TemplateID != "99" {
		t.Errorf("template_id = %q", cfg.Session.TemplateID)
	}
	if cfg.Log.Level != config.LogWarn {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
	if cfg.Telemetry.MetricsAddr != "" {
		t.Errorf("metrics_addr = %q, want disabled", cfg.Telemetry.MetricsAddr)
	}
	if cfg.Log.Forward {
		t.Error("log.forward should be false")
	}

	env[config.EnvLogForward] = "sometimes"
	if err := config.ApplyEnv(config.Default(), lookup); err == nil {
		t.Error("expected error for invalid boolean")
	}
}

func TestLoadDotEnv(t *testing.T) {
	// Not parallel: mutates the process environment.
	const key = "ROLECALL_DOTENV_TEST_VALUE"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, key+"=from-file\n")

	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), "absent.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want from-file", key, got)
	}
}
