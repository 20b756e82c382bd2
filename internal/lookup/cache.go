// Package lookup caches remote dropdown option lists in front of the
// records provider.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/masterdata/model"
)

// Cache stores option lists keyed by an opaque string.
type Cache interface {
	// Get returns the cached options for key. found is false on a miss or
	// an expired entry.
	Get(ctx context.Context, key string) (opts []model.Option, found bool, err error)
	// Set stores opts under key for ttl.
	Set(ctx context.Context, key string, opts []model.Option, ttl time.Duration) error
	// Name identifies the backend in metrics.
	Name() string
}

// --- MemoryCache ---

// MemoryCache is an in-process Cache bounded by entry count.
type MemoryCache struct {
	maxEntries int

	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	opts      []model.Option
	expiresAt time.Time
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries live
// entries (1000 when non-positive).
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		entries:    make(map[string]memEntry),
		now:        time.Now,
	}
}

// Name implements Cache.
func (c *MemoryCache) Name() string { return "memory" }

// Get implements Cache. The returned slice is a copy.
func (c *MemoryCache) Get(_ context.Context, key string) ([]model.Option, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(e.expiresAt) {
		return nil, false, nil
	}
	return slices.Clone(e.opts), true, nil
}

// Set implements Cache. When full, expired entries are evicted first and
// then the entry closest to expiry.
func (c *MemoryCache) Set(_ context.Context, key string, opts []model.Option, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evict()
	}
	c.entries[key] = memEntry{opts: slices.Clone(opts), expiresAt: c.now().Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evict must be called with mu held.
func (c *MemoryCache) evict() {
	now := c.now()
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// --- RedisCache ---

const redisKeyPrefix = "masterdata:"

// RedisCache is a Cache shared between BFF replicas.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache creates a RedisCache on client.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Name implements Cache.
func (c *RedisCache) Name() string { return "redis" }

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]model.Option, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var opts []model.Option
	if err := dec.Decode(&opts); err != nil {
		return nil, false, fmt.Errorf("unmarshal options %q: %w", key, err)
	}
	return opts, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, opts []model.Option, ttl time.Duration) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
