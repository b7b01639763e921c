package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Active Room Operations
//
// These front the streamrecord.Repository.FindActiveByRoom query, via
// streamrecord.CachedRepository.

// SetRoomActive caches that a room has an active stream record.
func (c *Cache) SetRoomActive(ctx context.Context, roomID string, ttl time.Duration) error {
	key := fmt.Sprintf("room:active:%s", roomID)
	return c.client.Set(ctx, key, "1", ttl).Err()
}

// IsRoomActiveCached reports a cache hit/miss for a room's active-stream
// status; ok is false on a cache miss so the caller falls back to Postgres.
func (c *Cache) IsRoomActiveCached(ctx context.Context, roomID string) (active bool, ok bool, err error) {
	key := fmt.Sprintf("room:active:%s", roomID)
	_, err = c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to get room active status from cache: %w", err)
	}
	return true, true, nil
}

// ClearRoomActive invalidates the cached active-stream status for a room,
// called by streamrecord.CachedRepository.EndStream.
func (c *Cache) ClearRoomActive(ctx context.Context, roomID string) error {
	key := fmt.Sprintf("room:active:%s", roomID)
	return c.client.Del(ctx, key).Err()
}

// SetPlatformStatus caches the last known platform status for a room, so a
// reconnecting viewer can be shown state before the first live event
// arrives.
func (c *Cache) SetPlatformStatus(ctx context.Context, roomID, platform string, status interface{}, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal platform status: %w", err)
	}
	key := fmt.Sprintf("room:%s:platform:%s", roomID, platform)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetPlatformStatus retrieves the last known platform status for a room.
func (c *Cache) GetPlatformStatus(ctx context.Context, roomID, platform string, dest interface{}) (bool, error) {
	key := fmt.Sprintf("room:%s:platform:%s", roomID, platform)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get platform status from cache: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal platform status: %w", err)
	}
	return true, nil
}

// Stats Cache Operations

// IncrementStat increments a statistic counter
func (c *Cache) IncrementStat(ctx context.Context, stat string) error {
	key := fmt.Sprintf("stats:%s", stat)
	return c.client.Incr(ctx, key).Err()
}

// GetStat retrieves a statistic value
func (c *Cache) GetStat(ctx context.Context, stat string) (int64, error) {
	key := fmt.Sprintf("stats:%s", stat)
	return c.client.Get(ctx, key).Int64()
}

// SetStat sets a statistic value
func (c *Cache) SetStat(ctx context.Context, stat string, value int64, ttl time.Duration) error {
	key := fmt.Sprintf("stats:%s", stat)
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Rate Limiting Operations

// CheckRateLimit checks if a rate limit has been exceeded
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	// Increment counter
	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	// Check if limit exceeded
	return count <= limit, nil
}

// Locking Operations for Distributed Systems
//
// SETNX-based locks with a TTL; no package in this repository calls them.

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// Batch Operations

// DeletePattern deletes all keys matching a pattern
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

// Exists checks if a key exists
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetWithJSON gets a value with JSON unmarshaling
func (c *Cache) GetWithJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil // Cache miss
		}
		return fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return nil
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
