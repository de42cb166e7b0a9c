package chart

import (
	"context"
	"sync"
	"time"
)

// Store is the key/TTL cache abstraction the chart service writes series
// through. TTL policy belongs to the caller, not the store; ttl zero means
// the entry never expires. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the cached series and whether the key was present.
	Get(ctx context.Context, key string) (*Series, bool, error)

	// Put writes a series under key with the given lifetime.
	Put(ctx context.Context, key string, series *Series, ttl time.Duration) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	series    *Series
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expired entries are dropped lazily on
// read.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*Series, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.series, true, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, series *Series, ttl time.Duration) error {
	entry := memoryEntry{series: series}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}
