package forecast

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SigmaCache stores calibrated sigmas per city. A miss is (0, false, nil).
type SigmaCache interface {
	Get(ctx context.Context, city string) (float64, bool, error)
	Set(ctx context.Context, city string, sigma float64, ttl time.Duration) error
}

type cacheEntry struct {
	sigma   float64
	expires time.Time
}

// MemoryCache is an in-process SigmaCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, city string) (float64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[city]
	if !ok || !c.now().Before(e.expires) {
		return 0, false, nil
	}
	return e.sigma, true, nil
}

func (c *MemoryCache) Set(_ context.Context, city string, sigma float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[city] = cacheEntry{sigma: sigma, expires: c.now().Add(ttl)}
	return nil
}

// RedisCache is a SigmaCache shared between processes through Redis.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache creates a RedisCache. Keys are "<prefix>sigma:<city>".
func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, city string) (float64, bool, error) {
	s, err := c.rdb.Get(ctx, c.key(city)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get sigma: %w", err)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Unreadable entries count as a miss and are overwritten on Set.
		return 0, false, nil
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, city string, sigma float64, ttl time.Duration) error {
	v := strconv.FormatFloat(sigma, 'f', -1, 64)
	if err := c.rdb.Set(ctx, c.key(city), v, ttl).Err(); err != nil {
		return fmt.Errorf("redis set sigma: %w", err)
	}
	return nil
}

func (c *RedisCache) key(city string) string {
	return fmt.Sprintf("%ssigma:%s", c.prefix, city)
}
