// Package telemetry provides the engine's structured logger and statistics
// recorder, bundled the same way the parser/interpreter/lazy-AST service
// are: passed explicitly into an engine context, never a process-wide
// singleton.
//
// Logging wraps log/slog: New takes the level from its caller and always
// writes JSON lines.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with a small With-chaining surface so callers
// never depend on slog directly.
type Logger struct {
	slog *slog.Logger
}

// Level selects logging verbosity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	// LevelOff disables logging entirely, wiring to a discard handler rather
	// than special-casing nil loggers throughout the engine.
	LevelOff Level = "off"
)

// New builds a Logger at the given level, writing JSON lines to w (os.Stdout
// if w is nil).
func New(level Level, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	if level == LevelOff {
		return Noop()
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return &Logger{slog: slog.New(slog.NewJSONHandler(w, opts))}
}

// Noop returns a logger that discards everything, used when the caller
// wants telemetry wired but silent (tests, embedders that bring their own).
func Noop() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

func parseLevel(level Level) slog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger with the given attributes attached to every
// subsequent record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }
