package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/programme-lv/ancm/api"
)

// File is a JSON-lines event log on disk. Each Append writes one complete
// line with O_APPEND so records from concurrent hosts never interleave.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	return &File{path: path}, nil
}

func (f *File) Path() string { return f.path }

func (f *File) Append(_ context.Context, rec api.LogRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (f *File) Query(_ context.Context, filter Filter) ([]api.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = file.Close() }()

	recs, err := decodeLines(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	return collect(recs, filter), nil
}

// Archive moves the current log into a zstd-compressed file next to it and
// starts an empty log. It returns the archive path, or "" if the log is empty.
func (f *File) Archive(now time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	src, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		return "", nil
	}

	dstPath := fmt.Sprintf("%s.%s.zst", f.path, now.UTC().Format("20060102T150405Z"))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	enc, err := zstd.NewWriter(dst)
	if err != nil {
		_ = dst.Close()
		return "", err
	}
	if _, err := io.Copy(enc, src); err != nil {
		_ = enc.Close()
		_ = dst.Close()
		return "", fmt.Errorf("failed to compress event log: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}

	if err := os.Truncate(f.path, 0); err != nil {
		return "", fmt.Errorf("failed to truncate event log: %w", err)
	}
	return dstPath, nil
}

// ReadArchive decodes a zstd-compressed JSON-lines log, oldest record first
func ReadArchive(path string) ([]api.LogRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer dec.Close()

	return decodeLines(dec)
}

func decodeLines(r io.Reader) ([]api.LogRecord, error) {
	var recs []api.LogRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec api.LogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("invalid record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}
