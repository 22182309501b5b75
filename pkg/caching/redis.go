package caching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dtnitsch/llm-web-search/pkg/metrics"
)

// RedisCache stores entries in redis with a per-key expiry.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(addr string, db int, prefix string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisCacheWithClient(client, prefix, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) redisKey(url string) string {
	return c.prefix + key(url)
}

func (c *RedisCache) Get(ctx context.Context, url string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.redisKey(url)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheLookups.WithLabelValues("redis", "miss").Inc()
		} else {
			metrics.CacheLookups.WithLabelValues("redis", "error").Inc()
		}
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("redis", "hit").Inc()
	return data, true
}

func (c *RedisCache) Set(ctx context.Context, url string, data []byte) error {
	if err := c.client.Set(ctx, c.redisKey(url), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write to redis cache: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
