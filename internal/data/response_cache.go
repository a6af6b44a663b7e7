package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"EgressGate/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewResponseCache returns the Redis-backed response cache when a Redis
// client is available, and the in-memory implementation otherwise.
func NewResponseCache(d *Data, logger log.Logger) biz.ResponseCache {
	if d.redisClient != nil {
		return &redisResponseCache{client: d.redisClient}
	}
	log.NewHelper(logger).Info("using in-memory response cache")
	return newMemoryResponseCache()
}

// redisResponseCache stores responses in Redis, delegating TTL handling to
// the server.
type redisResponseCache struct {
	client *redis.Client
}

func (c *redisResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: failed to get key %s: %w", key, err)
	}
	return val, true, nil
}

func (c *redisResponseCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}
	return nil
}

func (c *redisResponseCache) Stats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{"backend": "redis"}
	if size, err := c.client.DBSize(ctx).Result(); err == nil {
		stats["keys"] = size
	}
	return stats
}

// memoryResponseCache is the process-local fallback. Expired entries are
// evicted lazily at read time; there is no background sweep, so memory
// grows with the number of distinct keys until they are read after expiry.
type memoryResponseCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
}

type memoryCacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

func newMemoryResponseCache() *memoryResponseCache {
	return &memoryResponseCache{entries: make(map[string]memoryCacheEntry)}
}

func (c *memoryResponseCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have renewed it.
		if current, ok := c.entries[key]; ok && time.Now().After(current.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.payload, true, nil
}

func (c *memoryResponseCache) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c.mu.Lock()
	c.entries[key] = memoryCacheEntry{payload: payload, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *memoryResponseCache) Stats(context.Context) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"backend": "memory",
		"entries": len(c.entries),
	}
}
