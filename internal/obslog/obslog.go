// Package obslog is a small run-scoped logger: category-prefixed,
// timestamped lines appended to a file under runtime/runs/<run-id>/, used
// for git.log, merge.log, and errors.log. Logging failures never propagate
// to the caller, matching the GitManager's best-effort logging policy.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends timestamped, category-prefixed lines to a single file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates (or appends to) the file at path, creating parent
// directories as needed. A zero-value Logger (nil file) is a safe no-op,
// returned when path is empty.
func Open(path string) (*Logger, error) {
	if path == "" {
		return &Logger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Logger{file: f}, nil
}

// Line appends one "[timestamp] [category] message" line. Safe on a nil
// receiver or a no-op logger; write failures are swallowed.
func (l *Logger) Line(category, format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	fmt.Fprintf(l.file, "[%s] [%s] %s\n", ts, category, msg)
	_ = l.file.Sync()
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
