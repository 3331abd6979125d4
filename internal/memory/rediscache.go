package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQValueCache holds Q-values in Redis, one row per memory ID.
// Store.UpdateQValue writes every new Q-value through to it; Store never
// reads from it or invalidates it, and always reads Q-values from its own
// in-process map. It is optional: Store works without one.
type RedisQValueCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisQValueCache wires a cache against rdb with the given TTL for
// cached rows (0 disables expiry).
func NewRedisQValueCache(rdb *redis.Client, ttl time.Duration) *RedisQValueCache {
	return &RedisQValueCache{rdb: rdb, ttl: ttl}
}

func qValueKey(memoryID string) string {
	return fmt.Sprintf("orpar:muls:qvalue:%s", memoryID)
}

// Get returns the cached Q-value for memoryID, or (0, false) on a cache miss.
func (c *RedisQValueCache) Get(ctx context.Context, memoryID string) (float64, bool) {
	val, err := c.rdb.Get(ctx, qValueKey(memoryID)).Result()
	if errors.Is(err, redis.Nil) || err != nil {
		return 0, false
	}
	q, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return q, true
}

// Set writes the current Q-value for memoryID into the cache.
func (c *RedisQValueCache) Set(ctx context.Context, memoryID string, qValue float64) error {
	if err := c.rdb.Set(ctx, qValueKey(memoryID), strconv.FormatFloat(qValue, 'f', -1, 64), c.ttl).Err(); err != nil {
		return fmt.Errorf("memory: redis cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached row for memoryID. Store does not call it;
// consolidation leaves cached rows in place.
func (c *RedisQValueCache) Invalidate(ctx context.Context, memoryID string) error {
	if err := c.rdb.Del(ctx, qValueKey(memoryID)).Err(); err != nil {
		return fmt.Errorf("memory: redis cache invalidate: %w", err)
	}
	return nil
}
