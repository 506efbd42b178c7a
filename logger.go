package darena

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with arena-specific helpers.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithName adds an arena name field to the logger.
func (l *Logger) WithName(name string) *Logger {
	if name == "" {
		return l
	}
	return &Logger{
		Logger: l.Logger.With("arena", name),
	}
}

// LogOverflow logs the first request an arena serves outside its pool.
func (l *Logger) LogOverflow(nbytes int, reason string, poolFree, poolTotal int) {
	l.Warn("request served by backing allocator; arena is degraded",
		"bytes", nbytes,
		"reason", reason,
		"pool_free", poolFree,
		"pool_total", poolTotal,
	)
}

// LogOverflowSummary logs the running overflow totals.
func (l *Logger) LogOverflowSummary(live, liveBytes int, total uint64) {
	l.Debug("overflow allocations",
		"live", live,
		"live_bytes", liveBytes,
		"total", total,
	)
}

// LogBackingExhausted logs a failed backing allocation.
func (l *Logger) LogBackingExhausted(err error) {
	l.Error("backing allocation failed",
		"error", err,
	)
}

// LogInvalidFree logs a free of an unknown pointer before the arena panics.
func (l *Logger) LogInvalidFree(err *InvalidFreeError) {
	l.Error("invalid free",
		"pointer", err.Pointer,
		"reason", err.Reason,
	)
}

// LogClose logs arena teardown. Live allocations at this point are leaks.
func (l *Logger) LogClose(livePool, liveOverflow, liveOverflowBytes int, err error) {
	switch {
	case err != nil:
		l.Error("arena close failed",
			"error", err,
		)
	case livePool > 0 || liveOverflow > 0:
		l.Warn("arena closed with live allocations",
			"pool_blocks", livePool,
			"overflow", liveOverflow,
			"overflow_bytes", liveOverflowBytes,
		)
	default:
		l.Debug("arena closed")
	}
}
