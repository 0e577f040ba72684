package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/video-portal/internal/douban"
)

// RedisCache stores pages as JSON values with a shared TTL. Redis errors
// degrade to cache misses; the caller falls through to the upstream fetch.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: redis.NewClient(opt), ttl: ttl}, nil
}

// Ping verifies connectivity for readiness checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]douban.Item, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var items []douban.Item
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		return nil, false
	}
	return items, true
}

func (c *RedisCache) Set(ctx context.Context, key string, items []douban.Item) {
	b, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, b, c.ttl).Err()
}
