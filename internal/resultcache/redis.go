package resultcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the Redis-backed persistent tier. Redis handles expiry
// itself, so DeleteExpired is a no-op.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects to the Redis at url and verifies the connection with a
// ping.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("resultcache: parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("resultcache: redis ping: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resultcache: redis get: %w", err)
	}
	return body, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if err := r.client.SetEx(ctx, key, body, ttl).Err(); err != nil {
		return fmt.Errorf("resultcache: redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("resultcache: redis delete: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis evicts expired keys on its own.
func (r *RedisStore) DeleteExpired(ctx context.Context) error {
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
