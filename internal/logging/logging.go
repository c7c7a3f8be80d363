// Package logging builds the process logger. Every record is mirrored into a
// log buffer so clients can read recent backend logs.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"voice-orchestrator/internal/logbuf"
)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New returns a logger writing to w in the given format ("json" or "text").
// When buf is non-nil every emitted record is also appended to it.
func New(w io.Writer, level, format string, buf *logbuf.Buffer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	if buf != nil {
		h = logbuf.NewHandler(h, buf)
	}
	return slog.New(h)
}

// Init installs a stdout logger as the slog default and returns it.
func Init(level, format string, buf *logbuf.Buffer) *slog.Logger {
	logger := New(os.Stdout, level, format, buf)
	slog.SetDefault(logger)
	return logger
}
