package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN and the MGET batch size.
const scanBatch = 200

// Redis is a Backend stored in Redis. All keys are namespaced with a prefix
// so several deployments can share one database.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a Redis backend. An empty prefix stores keys unprefixed.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) namespaced(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) strip(key string) string {
	if r.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, r.prefix+":")
}

// Get implements Backend.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.namespaced(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", mapRedisErr(err))
	}
	return v, nil
}

// Put implements Backend. Values never expire; freshness is decided by the
// cache store, not by Redis TTLs.
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.namespaced(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", mapRedisErr(err))
	}
	return nil
}

// Delete implements Backend.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.namespaced(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", mapRedisErr(err))
	}
	return nil
}

// Scan implements Backend. Keys are visited in SCAN order, which is not
// sorted; values are fetched in MGET batches.
func (r *Redis) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	keys, err := r.scanKeys(ctx, prefix)
	if err != nil {
		return err
	}

	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		values, err := r.client.MGet(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis mget: %w", mapRedisErr(err))
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				// Deleted between SCAN and MGET.
				continue
			}
			if err := fn(r.strip(batch[i]), []byte(s)); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeletePrefix implements Backend.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := r.scanKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := r.client.Pipeline()
	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}
		pipe.Del(ctx, keys[start:end]...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis del prefix: %w", mapRedisErr(err))
	}
	return len(keys), nil
}

// Ping implements Backend.
func (r *Redis) Ping(ctx context.Context) error {
	return mapRedisErr(r.client.Ping(ctx).Err())
}

// Close implements Backend.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(r.namespaced(prefix)) + "*"

	var keys []string
	iter := r.client.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", mapRedisErr(err))
	}
	return keys, nil
}

// escapeGlob escapes characters that SCAN MATCH treats as glob syntax. Cache
// keys embed URLs, which may contain any of them.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func mapRedisErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return err
}
