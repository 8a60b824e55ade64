package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryCache provides an in-process implementation useful for testing,
// local development, and as the fallback when Redis is not configured.
type MemoryCache struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryOption customises the MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache constructs an empty in-process cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get implements the Cache interface.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return nil, ErrMiss
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set implements the Cache interface.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

// Increment implements the Cache interface.
func (c *MemoryCache) Increment(_ context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current int64
	if entry, ok := c.entries[key]; ok {
		if entry.expires.IsZero() || c.now().Before(entry.expires) {
			if parsed, err := strconv.ParseInt(string(entry.value), 10, 64); err == nil {
				current = parsed
			}
		}
	}
	current += delta
	c.entries[key] = memoryEntry{value: []byte(strconv.FormatInt(current, 10))}
	return current, nil
}

// Delete implements the Cache interface.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}
