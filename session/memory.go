package session

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	data    []byte
	expires time.Time
}

// MemoryBackend keeps records in process memory. Records are lost on restart
// and are not shared between replicas.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: map[string]memoryRecord{}}
}

func (m *MemoryBackend) Load(_ context.Context, id string, now time.Time) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok || !rec.expires.After(now) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.data...), nil
}

func (m *MemoryBackend) Save(_ context.Context, id string, data []byte, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = memoryRecord{data: append([]byte(nil), data...), expires: expires}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryBackend) Cleanup(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.records {
		if !rec.expires.After(now) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryBackend) Close() error { return nil }
