package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	processingMarker = "processing"
	processingTTL    = time.Minute
	resultTTL        = 5 * time.Minute
	cacheKeyPrefix   = "verification:"
)

// Cache holds short-lived verification results keyed by request ID.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

func resultKey(requestID string) string {
	return cacheKeyPrefix + requestID
}

// RedisCache stores results in Redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// DialRedisCache connects to addr and fails when the server does not answer a
// PING within timeout.
func DialRedisCache(ctx context.Context, addr string, timeout time.Duration) (*RedisCache, error) {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return NewRedisCache(client), nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NopCache is used when no Redis server is configured. Every lookup misses.
type NopCache struct{}

func (NopCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}

func (NopCache) Get(ctx context.Context, key string) (string, error) {
	return "", redis.Nil
}
