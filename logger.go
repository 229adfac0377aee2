package hnsw

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with hnsw-specific helper methods, scoped to
// the three operations the core performs: insert, search, clear.
// Logging never participates in a correctness path — every Log* call is
// best-effort and cannot fail an operation. The core is synchronous and
// uncancelable (spec §5), so these helpers take no context, unlike the
// teacher's *Context variants.
type Logger struct {
	*slog.Logger
}

// NewLogger wraps handler in a Logger. A nil handler yields a text
// handler writing to stderr at info level, mirroring the teacher's
// NewLogger default.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger returns a Logger that discards all output. This is the
// default when Config.Logger is left unset.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // above any level ever logged
	}))}
}

// LogInsert logs the outcome of an Insert call.
func (l *Logger) LogInsert(id uint32, level int, err error) {
	if err != nil {
		l.Error("insert failed", "error", err)
		return
	}
	l.Debug("insert completed", "id", id, "level", level)
}

// LogSearch logs the outcome of a Search call.
func (l *Logger) LogSearch(k, found int, err error) {
	if err != nil {
		l.Error("search failed", "k", k, "error", err)
		return
	}
	l.Debug("search completed", "k", k, "found", found)
}

// LogClear logs a Clear call.
func (l *Logger) LogClear(previousLen int) {
	l.Info("index cleared", "previous_len", previousLen)
}
