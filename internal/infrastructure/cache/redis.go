package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
)

// DefaultKeyPrefix namespaces dispatch keys in a shared redis
const DefaultKeyPrefix = "printshop:dispatch:"

// RedisConfig holds connection settings for the redis cache
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisDispatchCache shares dispatch dedup state across processes
type RedisDispatchCache struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisDispatchCache wraps a connected client
func NewRedisDispatchCache(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisDispatchCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisDispatchCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (c *RedisDispatchCache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		c.logger.Warn("Dispatch cache lookup failed", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Mark sets the key only if absent so the first successful send owns the TTL
func (c *RedisDispatchCache) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.SetNX(ctx, c.prefix+key, 1, ttl).Err(); err != nil {
		c.logger.Warn("Dispatch cache mark failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}

// Close releases the underlying client
func (c *RedisDispatchCache) Close() error {
	return c.client.Close()
}

var _ port.DispatchCache = (*RedisDispatchCache)(nil)
