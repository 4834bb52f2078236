package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sheenhq/runhub/pkg/runhub/core"
)

// EstimateCache holds bounded-stale recipient-count estimates used by
// trigger-time policy. Execution-time policy never reads this; it resolves
// fresh.
type EstimateCache interface {
	Get(ctx context.Context, projectID, actionID string) (int, bool)
	Put(ctx context.Context, projectID, actionID string, count int)
}

func key(projectID, actionID string) string {
	return fmt.Sprintf("runhub:est:%s:%s", projectID, actionID)
}

// RedisCache shares estimates across instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, projectID, actionID string) (int, bool) {
	val, err := c.client.Get(ctx, key(projectID, actionID)).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		slog.Warn("Estimate cache read failed", "error", err)
		return 0, false
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return count, true
}

func (c *RedisCache) Put(ctx context.Context, projectID, actionID string, count int) {
	if err := c.client.Set(ctx, key(projectID, actionID), strconv.Itoa(count), c.ttl).Err(); err != nil {
		slog.Warn("Estimate cache write failed", "error", err)
	}
}

// MemoryCache is the single-instance fallback when no Redis URL is
// configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	clock   core.Clock
}

type memoryEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration, clock core.Clock) *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), ttl: ttl, clock: clock}
}

func (c *MemoryCache) Get(ctx context.Context, projectID, actionID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key(projectID, actionID)]
	if !ok || c.clock.Now().After(e.expiresAt) {
		return 0, false
	}
	return e.count, true
}

func (c *MemoryCache) Put(ctx context.Context, projectID, actionID string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(projectID, actionID)] = memoryEntry{
		count:     count,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}
