// Package cache provides an optional Redis-backed cache in front of the
// Metadata Client's instance-count lookups (SPEC_FULL.md "Response
// caching"). It is strictly an optimization: every method degrades to a
// clean miss when Redis is unconfigured or unreachable, and the Instance
// Manager always tolerates that miss by falling back to the Metadata Client.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client. A Cache with a nil client is "disabled" and
// every method becomes a no-op / clean miss.
type Cache struct {
	client *redis.Client
}

// New constructs a Cache. An empty addr disables caching entirely.
func New(addr string) *Cache {
	if addr == "" {
		return &Cache{client: nil}
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})
	return &Cache{client: client}
}

// IsEnabled reports whether this Cache is backed by a live Redis client.
func (c *Cache) IsEnabled() bool { return c.client != nil }

// Close releases the underlying connection, if any.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func countKey(username string) string {
	return fmt.Sprintf("webide:count:%s", username)
}

// GetInstanceCount returns a cached count for username. The second return
// value is false on any miss — disabled cache, key absent, or Redis error —
// and the caller must treat that identically to "not cached".
func (c *Cache) GetInstanceCount(ctx context.Context, username string) (int, bool) {
	if !c.IsEnabled() {
		return 0, false
	}
	val, err := c.client.Get(ctx, countKey(username)).Result()
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SetInstanceCount caches count for username for ttl. Errors are swallowed:
// a failed cache write must never fail the caller's operation.
func (c *Cache) SetInstanceCount(ctx context.Context, username string, count int, ttl time.Duration) {
	if !c.IsEnabled() {
		return
	}
	_ = c.client.Set(ctx, countKey(username), strconv.Itoa(count), ttl).Err()
}

// InvalidateInstanceCount drops the cached count for username, used after a
// provision or teardown changes it.
func (c *Cache) InvalidateInstanceCount(ctx context.Context, username string) {
	if !c.IsEnabled() {
		return
	}
	_ = c.client.Del(ctx, countKey(username)).Err()
}
