package barrier

import (
	"context"
	"sync"
	"time"
)

// MemoryKV is an in-process KV store with TTL support, for tests and local
// runs without a persistent backend.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time // zero = no expiry
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	entry := memoryEntry{value: buf}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expires.IsZero() && m.now().After(entry.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (m *MemoryKV) Close() error { return nil }

// Len reports the number of live keys (expired entries included until read).
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// NullKV discards all writes and finds nothing on reads. Drop-in for running
// the pipeline without any persistence.
type NullKV struct{}

func (NullKV) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NullKV) Get(context.Context, string) ([]byte, error)              { return nil, ErrNotFound }
func (NullKV) Close() error                                             { return nil }
