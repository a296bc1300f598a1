package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV stores values under "cache:<key>", or "cache:<namespace>:<key>"
// when a namespace is set.
type RedisKV struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisKV connects using a redis:// URL and verifies the connection.
func NewRedisKV(ctx context.Context, redisURL, namespace string) (*RedisKV, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisKV(rdb, namespace), nil
}

func newRedisKV(rdb *redis.Client, namespace string) *RedisKV {
	prefix := "cache:"
	if namespace != "" {
		prefix += namespace + ":"
	}
	return &RedisKV{rdb: rdb, prefix: prefix}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Put writes without expiry; cached slots live until overwritten.
func (r *RedisKV) Put(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Close() error {
	return r.rdb.Close()
}
