package app

import (
	"log/slog"
	"os"
)

// NewLogger returns a slog.Logger writing text or JSON depending on LOG_FORMAT.
// Development runs log at debug level so guard denials are visible.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
