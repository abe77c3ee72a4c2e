package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger appends run events to a timestamped log file under the state
// directory's logs/ subdir and keeps a latest.log symlink current.
type FileLogger struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// NewFileLogger opens a run-YYYYMMDD-HHMMSS.log in logDir, creating the
// directory as needed.
func NewFileLogger(logDir string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	// Best effort; symlinks are unsupported on some filesystems.
	latest := filepath.Join(logDir, "latest.log")
	_ = os.Remove(latest)
	_ = os.Symlink(filepath.Base(path), latest)

	return &FileLogger{file: f, path: path}, nil
}

// Path returns the run log path.
func (l *FileLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Writef appends one timestamped line. Nil receivers discard.
func (l *FileLogger) Writef(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Close flushes and closes the run log.
func (l *FileLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
