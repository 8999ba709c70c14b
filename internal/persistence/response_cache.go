package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache stores the last known-good response per cache key so reads
// can be served while storage is unavailable.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte)
}

type memoryCacheEntry struct {
	payload  []byte
	storedAt time.Time
}

// MemoryResponseCache is the in-process default.
type MemoryResponseCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryResponseCache(ttl time.Duration) *MemoryResponseCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryResponseCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryResponseCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.storedAt) > c.ttl {
		return nil, false
	}
	return entry.payload, true
}

func (c *MemoryResponseCache) Set(_ context.Context, key string, payload []byte) {
	c.mu.Lock()
	c.entries[key] = memoryCacheEntry{payload: payload, storedAt: c.now()}
	c.mu.Unlock()
}

// RedisResponseCache keeps fallback responses in Redis so they survive
// process restarts. Cache errors degrade to a miss, never to a failure.
type RedisResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisResponseCache(client *redis.Client, ttl time.Duration) *RedisResponseCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisResponseCache{client: client, ttl: ttl}
}

func (c *RedisResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, err := c.client.Get(ctx, "tickflow:response:"+key).Bytes()
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (c *RedisResponseCache) Set(ctx context.Context, key string, payload []byte) {
	c.client.Set(ctx, "tickflow:response:"+key, payload, c.ttl)
}
