package main

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"github.com/MrWong99/rolecall/internal/config"
)

// ── Logger ─────────────────────────────────────────────────────────────────────

// newHandler returns the console log handler for format. level is shared so
// that a config reload can change verbosity in place.
func newHandler(w io.Writer, format config.LogFormat, level slog.Leveler) slog.Handler {
	switch format {
	case config.FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case config.FormatPretty:
		return tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
}
