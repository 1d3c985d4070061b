// Package logger provides structured, context-aware logging built on slog.
package logger

import (
	"context"
	"io"
	"log/slog"
)

// Level represents the minimum log level.
type Level slog.Level

// Log levels.
const (
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

// ParseLevel converts a config string into a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LoggerInterface is the logging contract used across the application.
// All methods take a context first so trace correlation can be added
// without touching call sites.
type LoggerInterface interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) LoggerInterface
}

// Logger implements LoggerInterface using slog with a JSON handler.
type Logger struct {
	handler *slog.Logger
}

// Ensure Logger implements LoggerInterface.
var _ LoggerInterface = (*Logger)(nil)

// New creates a Logger writing JSON records to w at the given level.
// service is attached to every record. replaceAttr may be nil.
func New(w io.Writer, level Level, service string, replaceAttr func(groups []string, a slog.Attr) slog.Attr) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.Level(level),
		ReplaceAttr: replaceAttr,
	})

	l := slog.New(h)
	if service != "" {
		l = l.With("service", service)
	}

	return &Logger{handler: l}
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.handler.DebugContext(ctx, msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.handler.InfoContext(ctx, msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.handler.WarnContext(ctx, msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.handler.ErrorContext(ctx, msg, args...)
}

// With returns a Logger with additional attributes attached to every record.
func (l *Logger) With(args ...any) LoggerInterface {
	return &Logger{handler: l.handler.With(args...)}
}

// NewTest returns a logger suitable for tests: debug level, discarded output.
func NewTest() *Logger {
	return New(io.Discard, LevelDebug, "test", nil)
}
