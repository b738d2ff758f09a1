package eventlog

import (
	"context"
	"sync"

	"github.com/programme-lv/ancm/api"
)

// DefaultMemoryCapacity bounds an in-memory log when no capacity is given
const DefaultMemoryCapacity = 4096

// Memory is a ring buffer holding the most recent records
type Memory struct {
	mu       sync.RWMutex
	capacity int
	recs     []api.LogRecord
	start    int
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{capacity: capacity}
}

func (m *Memory) Append(_ context.Context, rec api.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.recs) < m.capacity {
		m.recs = append(m.recs, rec)
		return nil
	}
	m.recs[m.start] = rec
	m.start = (m.start + 1) % m.capacity
	return nil
}

func (m *Memory) Query(_ context.Context, f Filter) ([]api.LogRecord, error) {
	return collect(m.Records(), f), nil
}

// Records returns all retained records, oldest first
func (m *Memory) Records() []api.LogRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]api.LogRecord, 0, len(m.recs))
	out = append(out, m.recs[m.start:]...)
	out = append(out, m.recs[:m.start]...)
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}
