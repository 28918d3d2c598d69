package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	payload   map[string]any
	expiresAt time.Time
}

// MemoryCache is the default in-process cache with time-based eviction.
// Expired entries are dropped lazily on read and in bulk by Sweep, which the
// worker's janitor runs periodically.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (map[string]any, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key.String()]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key.String())
		c.mu.Unlock()

		return nil, false, nil
	}

	return entry.payload, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key Key, payload map[string]any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key.String()] = memoryEntry{
		payload:   payload,
		expiresAt: c.now().Add(ttl),
	}

	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key.String())

	return nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *MemoryCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0

	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)

			dropped++
		}
	}

	return dropped
}

// Len reports the number of live plus not-yet-swept entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

func (c *MemoryCache) Close() error {
	return nil
}
