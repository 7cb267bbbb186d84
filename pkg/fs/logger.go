package fs

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with filesystem-specific helpers so that every
// operation logs with the same field names.
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
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithVolume tags every record with the volume ID.
func (l *Logger) WithVolume(id string) *Logger {
	return &Logger{Logger: l.Logger.With("volume", id)}
}

// LogCreate logs a create operation.
func (l *Logger) LogCreate(name string, inode int, err error) {
	if err != nil {
		l.Error("create failed", "name", name, "error", err)
		return
	}
	l.Debug("create completed", "name", name, "inode", inode)
}

// LogDelete logs a delete operation. found is false when the name did not
// exist and nothing was done.
func (l *Logger) LogDelete(name string, found bool, err error) {
	if err != nil {
		l.Error("delete failed", "name", name, "error", err)
		return
	}
	l.Debug("delete completed", "name", name, "found", found)
}

// LogOpen logs an open operation.
func (l *Logger) LogOpen(name string, fd int, err error) {
	if err != nil {
		l.Error("open failed", "name", name, "error", err)
		return
	}
	l.Debug("open completed", "name", name, "handle", fd)
}

// LogRead logs a read operation.
func (l *Logger) LogRead(fd, n int, err error) {
	if err != nil {
		l.Error("read failed", "handle", fd, "bytes", n, "error", err)
		return
	}
	l.Debug("read completed", "handle", fd, "bytes", n)
}

// LogWrite logs a write operation.
func (l *Logger) LogWrite(fd, n int, err error) {
	if err != nil {
		l.Error("write failed", "handle", fd, "bytes", n, "error", err)
		return
	}
	l.Debug("write completed", "handle", fd, "bytes", n)
}

// LogRollback logs the blocks released after a failed write.
func (l *Logger) LogRollback(fd int, blocks []int) {
	l.Warn("write rolled back", "handle", fd, "freed_blocks", blocks)
}
