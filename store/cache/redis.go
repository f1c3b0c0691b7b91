package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	pendingMarker   = "pending"
	completedPrefix = "done:"
)

// RedisConfig holds the Redis connection configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	PendingTTL   time.Duration
	CompletedTTL time.Duration
	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "marketsense:",
		PendingTTL:   DefaultPendingTTL,
		CompletedTTL: DefaultCompletedTTL,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisIdempotencyStore shares idempotency keys between instances.
type RedisIdempotencyStore struct {
	client       *redis.Client
	keyPrefix    string
	pendingTTL   time.Duration
	completedTTL time.Duration
}

// NewRedisIdempotencyStore connects to Redis and verifies the connection.
func NewRedisIdempotencyStore(ctx context.Context, config *RedisConfig) (*RedisIdempotencyStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if config.PendingTTL <= 0 {
		config.PendingTTL = DefaultPendingTTL
	}
	if config.CompletedTTL <= 0 {
		config.CompletedTTL = DefaultCompletedTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	slog.Info("Redis idempotency store connected", "addr", config.Addr)

	return &RedisIdempotencyStore{
		client:       client,
		keyPrefix:    config.KeyPrefix,
		pendingTTL:   config.PendingTTL,
		completedTTL: config.CompletedTTL,
	}, nil
}

func (r *RedisIdempotencyStore) Acquire(ctx context.Context, key string) (State, []byte, error) {
	fullKey := r.fullKey(key)
	ok, err := r.client.SetNX(ctx, fullKey, pendingMarker, r.pendingTTL).Result()
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to claim idempotency key")
	}
	if ok {
		return StateAcquired, nil, nil
	}

	value, err := r.client.Get(ctx, fullKey).Result()
	if err == redis.Nil {
		// The claim expired between SETNX and GET; treat it as still busy.
		return StateInFlight, nil, nil
	}
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to read idempotency key")
	}
	if payload, found := strings.CutPrefix(value, completedPrefix); found {
		return StateCompleted, []byte(payload), nil
	}
	return StateInFlight, nil, nil
}

func (r *RedisIdempotencyStore) Complete(ctx context.Context, key string, payload []byte) error {
	if err := r.client.Set(ctx, r.fullKey(key), completedPrefix+string(payload), r.completedTTL).Err(); err != nil {
		return errors.Wrap(err, "failed to store idempotent response")
	}
	return nil
}

func (r *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	fullKey := r.fullKey(key)
	value, err := r.client.Get(ctx, fullKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read idempotency key")
	}
	if value != pendingMarker {
		return nil
	}
	if err := r.client.Del(ctx, fullKey).Err(); err != nil {
		return errors.Wrap(err, "failed to release idempotency key")
	}
	return nil
}

func (r *RedisIdempotencyStore) Close() error {
	return r.client.Close()
}

func (r *RedisIdempotencyStore) fullKey(key string) string {
	return r.keyPrefix + key
}
