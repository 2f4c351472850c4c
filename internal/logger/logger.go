package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds a logger writing JSON in production and text elsewhere.
// An empty level means debug in development and info otherwise.
func New(w io.Writer, production bool, level string) *slog.Logger {
	lvl := ParseLevel(level)
	if level == "" && !production {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup installs the logger as the slog default and returns it.
func Setup(production bool, level string) *slog.Logger {
	l := New(os.Stdout, production, level)
	slog.SetDefault(l)
	return l
}

// Component tags every record of l with the component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}

// Discard is a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
