package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "storyreel:cache:"

// RedisCache shares cached stage results across worker processes. Expiry is
// delegated to Redis key TTLs.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache connects to the Redis instance described by url
// (redis://[:password@]host:port/db) and verifies the connection.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key Key) (map[string]any, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var payload map[string]any

	err = json.Unmarshal([]byte(raw), &payload)
	if err != nil {
		// A corrupt entry behaves like a miss; the executor recomputes it.
		return nil, false, nil
	}

	return payload, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key Key, payload map[string]any, ttl time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	return c.client.Set(ctx, redisKeyPrefix+key.String(), raw, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, key Key) error {
	return c.client.Del(ctx, redisKeyPrefix+key.String()).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
