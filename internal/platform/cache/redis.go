package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drivelane/engine/internal/platform/config"
)

// RedisCache backs the Cache interface with a Redis instance.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a Redis-backed cache from configuration.
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis cache: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{client: client}, nil
}

// Ping verifies connectivity, used at startup before committing to Redis.
func (c *RedisCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("redis cache: not initialised")
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis cache: ping: %w", err)
	}
	return nil
}

// Get implements the Cache interface.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache: get %s: %w", key, err)
	}
	return value, nil
}

// Set implements the Cache interface.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set %s: %w", key, err)
	}
	return nil
}

// Increment implements the Cache interface.
func (c *RedisCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	value, err := c.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis cache: incrby %s: %w", key, err)
	}
	return value, nil
}

// Delete implements the Cache interface.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis cache: del %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
