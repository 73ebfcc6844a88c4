// Package lock serializes stock keys across engine instances with Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
	"go.uber.org/zap"
)

// ErrNotObtained means a key stayed held by another instance past the retry limit
var ErrNotObtained = errors.New("stock key lock not obtained")

// RedisLockerConfig tunes lock acquisition
type RedisLockerConfig struct {
	// Prefix namespaces lock keys, default "costing:lock"
	Prefix  string
	TTL     time.Duration
	Retries int
	Backoff time.Duration
}

// RedisLocker takes one redislock per stock key
type RedisLocker struct {
	client *redislock.Client
	config RedisLockerConfig
	logger *zap.Logger
}

// NewRedisLocker creates a locker over an existing Redis client
func NewRedisLocker(rdb redis.UniversalClient, config RedisLockerConfig, logger *zap.Logger) *RedisLocker {
	if config.Prefix == "" {
		config.Prefix = "costing:lock"
	}
	if config.TTL <= 0 {
		config.TTL = 10 * time.Second
	}
	if config.Backoff <= 0 {
		config.Backoff = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		config: config,
		logger: logger.Named("redis_lock"),
	}
}

// Verify interface compliance
var _ repositories.KeyLocker = (*RedisLocker)(nil)

// Key returns the Redis key guarding a stock key
func (l *RedisLocker) Key(key entities.StockKey) string {
	return fmt.Sprintf("%s:%s:%s", l.config.Prefix, key.Warehouse, key.Product)
}

// Lock obtains every key in the given order. On failure the keys already held are released.
func (l *RedisLocker) Lock(ctx context.Context, keys []entities.StockKey) (func(), error) {
	options := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.config.Backoff), l.config.Retries),
	}

	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// The request context may already be done; releasing must still happen
			if err := held[i].Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("failed to release lock", zap.String("key", held[i].Key()), zap.Error(err))
			}
		}
	}

	for _, key := range keys {
		lock, err := l.client.Obtain(ctx, l.Key(key), l.config.TTL, options)
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
			}
			return nil, fmt.Errorf("failed to lock %s: %w", key, err)
		}
		held = append(held, lock)
	}
	return release, nil
}
