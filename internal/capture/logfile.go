package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogFile is the stdout log written when stdout logging is enabled. Its name
// is <base>_<yyyyMMddHHmmss>_<pid>.log; an empty file is removed on Close.
// Relaunches within the same second share the name and append to it.
type LogFile struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	size   int64
	closed bool
}

// LogFileName builds the log file path for base, created at t by pid
func LogFileName(base string, t time.Time, pid int) string {
	return fmt.Sprintf("%s_%s_%d.log", base, t.Format("20060102150405"), pid)
}

// OpenLogFile creates the log file below contentRoot. A relative base is
// resolved against contentRoot; missing directories are created.
func OpenLogFile(contentRoot, base string, t time.Time, pid int) (*LogFile, error) {
	if !filepath.IsAbs(base) {
		base = filepath.Join(contentRoot, base)
	}
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return nil, fmt.Errorf("failed to create stdout log directory: %w", err)
	}

	path := LogFileName(base, t, pid)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat stdout log file: %w", err)
	}
	return &LogFile{path: path, file: f, size: info.Size()}, nil
}

func (l *LogFile) Path() string { return l.path }

func (l *LogFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return len(p), nil
	}
	n, err := l.file.Write(p)
	l.size += int64(n)
	return n, err
}

// Close flushes and closes the file, deleting it when nothing was written.
func (l *LogFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("failed to flush stdout log file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close stdout log file: %w", err)
	}
	if l.size == 0 {
		if err := os.Remove(l.path); err != nil {
			return fmt.Errorf("failed to remove empty stdout log file: %w", err)
		}
	}
	return nil
}

// Removed reports whether Close deleted the file for being empty
func (l *LogFile) Removed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed && l.size == 0
}
