package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryCache struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns a process-local Store. Expired entries are dropped lazily
// on lookup.
func NewMemory() Store {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock is NewMemory with an injectable clock.
func NewMemoryWithClock(now func() time.Time) Store {
	if now == nil {
		now = time.Now
	}
	return &memoryCache{now: now, entries: make(map[string]Entry)}
}

func (c *memoryCache) Lookup(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !entry.Live(c.now()) {
		delete(c.entries, key)
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (c *memoryCache) Store(_ context.Context, key string, entry Entry) error {
	if entry.ExpiresAt.IsZero() {
		return ErrExpiryRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = c.now().UTC()
	}
	c.entries[key] = cloneEntry(entry)
	return nil
}

func (c *memoryCache) Size(_ context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.entries)), nil
}

func (c *memoryCache) Close(_ context.Context) error {
	return nil
}

func cloneEntry(in Entry) Entry {
	return Entry{
		Payload:   slices.Clone(in.Payload),
		StoredAt:  in.StoredAt,
		ExpiresAt: in.ExpiresAt,
	}
}
