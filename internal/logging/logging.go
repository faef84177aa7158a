// ABOUTME: Structured logger construction shared by all heapbridge packages
// ABOUTME: Parses level names and provides a discard logger for nil configuration

package logging

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// ErrUnknownLevel is returned for level names ParseLevel does not know.
var ErrUnknownLevel = errors.New("unknown log level")

// New builds a text logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discard logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Discard()
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// The empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, errors.Wrapf(ErrUnknownLevel, "%q", s)
}
