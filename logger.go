package refstore

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with refstore-specific context.
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

// WithTypeID adds a type id field to the logger.
func (l *Logger) WithTypeID(typeID TypeID) *Logger {
	return &Logger{
		Logger: l.Logger.With("type_id", uint32(typeID)),
	}
}

// WithBufferID adds a buffer id field to the logger.
func (l *Logger) WithBufferID(bufferID BufferID) *Logger {
	return &Logger{
		Logger: l.Logger.With("buffer_id", uint32(bufferID)),
	}
}

// LogBufferSwitch logs an active-buffer switch.
func (l *Logger) LogBufferSwitch(typeID TypeID, oldBuffer, newBuffer BufferID, entries uint32) {
	l.Debug("active buffer switched",
		"type_id", uint32(typeID),
		"old_buffer", uint32(oldBuffer),
		"new_buffer", uint32(newBuffer),
		"entries", entries,
	)
}

// LogCompactionStart logs the start of a compaction round.
func (l *Logger) LogCompactionStart(bufferIDs []BufferID) {
	l.Info("compaction started",
		"buffers", len(bufferIDs),
	)
}

// LogTrim logs a hold-list trim.
func (l *Logger) LogTrim(elemsFreed int, buffersFreed int) {
	if elemsFreed == 0 && buffersFreed == 0 {
		return
	}
	l.Debug("hold lists trimmed",
		"elems_freed", elemsFreed,
		"buffers_freed", buffersFreed,
	)
}
