package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/canonica-labs/dealquery/internal/executor"
)

const redisPrefix = "dealq:result:"

// RedisConfig configures the shared backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis stores results in a Redis server shared by gateway replicas.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed cache.
func NewRedis(cfg RedisConfig) *Redis {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// Get reads and decodes an entry.
func (r *Redis) Get(ctx context.Context, key string) (*executor.Result, bool, error) {
	b, err := r.client.Get(ctx, redisPrefix+key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	res, err := decode(b)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Set encodes and writes an entry.
func (r *Redis) Set(ctx context.Context, key string, res *executor.Result, ttl time.Duration) error {
	b, err := encode(res)
	if err != nil {
		return fmt.Errorf("cache: encoding entry: %w", err)
	}
	if err := r.client.Set(ctx, redisPrefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Ping checks the server.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
