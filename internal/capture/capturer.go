package capture

import (
	"fmt"
	"io"
	"log/slog"
)

// StreamId names one of the child's output streams
type StreamId int

const (
	Stdout StreamId = iota
	Stderr
)

func (id StreamId) String() string {
	switch id {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	}
	return fmt.Sprintf("stream(%d)", int(id))
}

// Capturer bounds the stdout and stderr of one child process and optionally
// tees both into a stdout log file.
type Capturer struct {
	stdout  *Stream
	stderr  *Stream
	logFile *LogFile
	logger  *slog.Logger
}

type Option func(*Capturer)

// WithLogFile tees every write into f as well
func WithLogFile(f *LogFile) Option {
	return func(c *Capturer) { c.logFile = f }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Capturer) { c.logger = logger }
}

func New(maxBytes int, opts ...Option) *Capturer {
	c := &Capturer{
		stdout: NewStream(Stdout.String(), maxBytes),
		stderr: NewStream(Stderr.String(), maxBytes),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Capturer) Stream(id StreamId) *Stream {
	if id == Stderr {
		return c.stderr
	}
	return c.stdout
}

// Write appends p to the named stream
func (c *Capturer) Write(id StreamId, p []byte) {
	_, _ = c.Stream(id).Write(p)
	if c.logFile != nil {
		if _, err := c.logFile.Write(p); err != nil {
			c.logger.Warn("failed to write stdout log file", "path", c.logFile.Path(), "error", err)
		}
	}
}

// Writer returns an io.Writer feeding the named stream, suitable for
// exec.Cmd.Stdout and exec.Cmd.Stderr.
func (c *Capturer) Writer(id StreamId) io.Writer {
	return streamWriter{c: c, id: id}
}

type streamWriter struct {
	c  *Capturer
	id StreamId
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.c.Write(w.id, p)
	return len(p), nil
}

// Close finalizes both streams and the log file
func (c *Capturer) Close() error {
	_ = c.stdout.Close()
	_ = c.stderr.Close()
	if c.logFile != nil {
		return c.logFile.Close()
	}
	return nil
}

// Combined returns the retained stdout followed by the retained stderr
func (c *Capturer) Combined() string {
	return c.stdout.String() + c.stderr.String()
}

func (c *Capturer) Truncated() bool {
	return c.stdout.Truncated() || c.stderr.Truncated()
}

func (c *Capturer) LogFile() *LogFile { return c.logFile }
