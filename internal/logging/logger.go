// Package logging builds the slog loggers used for operational output.
// User-facing CLI output goes through the cmd package instead.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a stderr logger. Format is "json" or "text"; anything
// else falls back to text. Verbose forces debug level with source locations.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	return New(os.Stderr, format, level, verbose)
}

// New creates a logger writing to w.
func New(w io.Writer, format, level string, verbose bool) *slog.Logger {
	lvl, _ := ParseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: verbose,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info
// and return an error.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
