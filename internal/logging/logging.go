// Package logging builds the structured logger shared by all components.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sweeney/presence-sensor/internal/config"
)

// New creates a logger writing to the configured output.
func New(cfg config.LoggingConfig, device, version string) *slog.Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return NewWithWriter(output, cfg, device, version)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, device, version string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("device", device),
		slog.String("version", version),
	}))
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a child logger tagged with the component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With("component", name)
}
