package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/storyreel/storyreel/pkg/cache"
)

const defaultLRUCapacity = 4096

// NewCache builds the result cache from its URL: "memory://", "lru://" or a
// redis:// connection string.
func NewCache(ctx context.Context, cacheURL string) (cache.Cache, error) {
	switch {
	case cacheURL == "" || strings.HasPrefix(cacheURL, "memory://"):
		return cache.NewMemoryCache(), nil
	case strings.HasPrefix(cacheURL, "lru://"):
		return cache.NewLRUCache(defaultLRUCapacity, 24*time.Hour), nil
	case strings.HasPrefix(cacheURL, "redis://"), strings.HasPrefix(cacheURL, "rediss://"):
		return cache.NewRedisCache(ctx, cacheURL)
	default:
		return nil, fmt.Errorf("unsupported cache url '%s'", cacheURL)
	}
}
