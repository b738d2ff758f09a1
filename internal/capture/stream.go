package capture

import "sync"

// DefaultMaxBytes is the number of bytes retained per stream
const DefaultMaxBytes = 4096

// Stream keeps the first maxBytes written to it. Writes never block and never
// fail so the child's pipes keep draining; excess bytes are dropped.
type Stream struct {
	mu sync.Mutex

	name     string
	maxBytes int
	buf      []byte
	total    int64
	closed   bool
}

func NewStream(name string, maxBytes int) *Stream {
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &Stream{name: name, maxBytes: maxBytes}
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return len(p), nil
	}
	s.total += int64(len(p))

	remaining := s.maxBytes - len(s.buf)
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		s.buf = append(s.buf, p[:remaining]...)
	} else {
		s.buf = append(s.buf, p...)
	}
	return len(p), nil
}

// Close finalizes the stream; later writes are ignored.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Bytes returns a copy of the retained bytes
func (s *Stream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil
	}
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}

func (s *Stream) String() string { return string(s.Bytes()) }

// Truncated reports whether more bytes were written than retained
func (s *Stream) Truncated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total > int64(s.maxBytes)
}

// TotalWritten counts every byte accepted before Close, retained or not
func (s *Stream) TotalWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
