// Package logx provides the engine's debug logger, a generalization of the
// teacher's single global debug.log into an instance-scoped logger so that
// multiple engines (e.g. in tests) don't share one file.
package logx

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger writes timestamped debug lines to an underlying writer.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
}

// New opens path for append (creating it and any parent directory) and
// returns a Logger writing to it. Empty path makes a discard logger.
func New(path string) (*Logger, error) {
	if path == "" {
		return &Logger{out: io.Discard}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logx: open %s: %w", path, err)
	}
	return &Logger{out: f, closer: f}, nil
}

// Discard returns a Logger that drops every message. Used by tests and by
// callers that don't want a debug.log.
func Discard() *Logger {
	return &Logger{out: io.Discard}
}

// Debug writes one timestamped, formatted line.
func (l *Logger) Debug(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.out, "[%s] %s\n", ts, fmt.Sprintf(format, args...))
	if f, ok := l.out.(*os.File); ok {
		_ = f.Sync()
	}
}

// Close releases the underlying file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
