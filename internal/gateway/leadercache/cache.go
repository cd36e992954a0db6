// Package leadercache is the small Redis-backed cache of "who is leader"
// gateway replicas share, so a write doesn't have to probe every Proposer's
// /status endpoint on every request. It is an optimization only: a stale or
// missing entry just costs one NOT_LEADER round trip, never a safety
// violation.
package leadercache

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/paxoskv/paxoskv/pkg/redis"
)

const key = "paxoskv:leader"

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached leader proposer address, and whether one was cached.
func (c *Cache) Get(ctx context.Context) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != goredis.Nil {
			return "", false
		}
		return "", false
	}
	return val, val != ""
}

// Set records proposerID as the current leader, good for the cache's TTL.
func (c *Cache) Set(ctx context.Context, proposerID string) error {
	return c.client.Set(ctx, key, proposerID, c.ttl).Err()
}

// Invalidate drops the cached leader, forcing the next Get to miss.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, key).Err()
}
