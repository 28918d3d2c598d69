package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache bounds memory by capacity on top of time-based expiry. The
// expirable LRU applies one TTL to every entry, so the cache is constructed
// with the longest stage TTL and per-call TTLs shorter than that are enforced
// by a recorded deadline.
type LRUCache struct {
	lru *expirable.LRU[string, lruEntry]
	now func() time.Time
}

type lruEntry struct {
	payload   map[string]any
	expiresAt time.Time
}

func NewLRUCache(capacity int, maxTTL time.Duration) *LRUCache {
	return &LRUCache{
		lru: expirable.NewLRU[string, lruEntry](capacity, nil, maxTTL),
		now: time.Now,
	}
}

func (c *LRUCache) Get(_ context.Context, key Key) (map[string]any, bool, error) {
	entry, ok := c.lru.Get(key.String())
	if !ok {
		return nil, false, nil
	}

	if c.now().After(entry.expiresAt) {
		c.lru.Remove(key.String())

		return nil, false, nil
	}

	return entry.payload, true, nil
}

func (c *LRUCache) Put(_ context.Context, key Key, payload map[string]any, ttl time.Duration) error {
	c.lru.Add(key.String(), lruEntry{
		payload:   payload,
		expiresAt: c.now().Add(ttl),
	})

	return nil
}

func (c *LRUCache) Invalidate(_ context.Context, key Key) error {
	c.lru.Remove(key.String())

	return nil
}

func (c *LRUCache) Close() error {
	c.lru.Purge()

	return nil
}
