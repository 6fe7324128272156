package facematch

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with facematch-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogRegister logs a registration operation.
func (l *Logger) LogRegister(ctx context.Context, name string, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "register failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "identity registered",
			"name", name,
			"id", id,
		)
	}
}

// LogRecognize logs a recognition query.
func (l *Logger) LogRecognize(ctx context.Context, matched bool, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recognize failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "recognize completed",
			"matched", matched,
			"results", results,
		)
	}
}

// LogDelete logs a deletion.
func (l *Logger) LogDelete(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"id", id,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "identity deleted",
			"id", id,
		)
	}
}

// LogRebuild logs an index rebuild.
func (l *Logger) LogRebuild(ctx context.Context, vectors int, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index rebuild failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index rebuilt",
			"vectors", vectors,
			"took", took,
		)
	}
}

// LogRecovery logs startup recovery from the persistence backend.
func (l *Logger) LogRecovery(ctx context.Context, recordsLoaded int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"records_loaded", recordsLoaded,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "recovery completed",
			"records_loaded", recordsLoaded,
		)
	}
}
