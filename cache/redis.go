package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Codec converts a cached value to and from bytes. Unlike the teacher's
// RedisCache (which bson-marshals T directly, fine for Mongo documents
// built entirely of exported fields), docforest's cached value
// (*VersionedDocument) carries unexported rev-tree state, so the caller
// supplies an explicit codec built on the same encode/decode pair used
// for on-disk persistence.
type Codec[T any] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

// RedisCache is a distributed Cache[T] backend, letting several processes
// share a look-aside document cache (adapted from the teacher's
// RedisCache).
type RedisCache[T any] struct {
	client *redis.Client
	opts   *Options
	prefix string
	codec  Codec[T]
}

// NewRedisCache dials addr and verifies connectivity before returning.
func NewRedisCache[T any](addr, prefix string, codec Codec[T], opts *Options) (*RedisCache[T], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}

	return &RedisCache[T]{client: client, opts: opts, prefix: prefix, codec: codec}, nil
}

func (c *RedisCache[T]) key(k string) string { return c.prefix + k }

func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return zero, ErrMiss
		}
		return zero, fmt.Errorf("cache: redis get: %w", err)
	}
	v, err := c.codec.Unmarshal(data)
	if err != nil {
		return zero, fmt.Errorf("cache: decode cached value: %w", err)
	}
	return v, nil
}

func (c *RedisCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	data, err := c.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode value: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (c *RedisCache[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

func (c *RedisCache[T]) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("cache: redis del during clear: %w", err)
		}
	}
	return iter.Err()
}

func (c *RedisCache[T]) Close() error { return c.client.Close() }
