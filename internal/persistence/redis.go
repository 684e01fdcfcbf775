package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisRetries = 5

// Redis stores each association under prefix+key as a plain string value.
// Mutate uses WATCH/MULTI so concurrent writers retry instead of losing updates.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	retries int
}

type RedisOption func(*Redis)

// WithPrefix namespaces keys, e.g. "diagproxy:".
func WithPrefix(p string) RedisOption { return func(r *Redis) { r.prefix = p } }

// WithTTL sets an expiry refreshed on every write. Zero keeps values forever.
func WithTTL(d time.Duration) RedisOption { return func(r *Redis) { r.ttl = d } }

// WithRetries bounds optimistic retries in Mutate.
func WithRetries(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.retries = n
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "diagproxy:", retries: defaultRedisRetries}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Update(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Mutate(ctx context.Context, key string, fn MutateFunc) error {
	if key == "" {
		return ErrEmptyKey
	}
	k := r.prefix + key
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			cur, found = nil, false
		} else if err != nil {
			return err
		}
		next, err := fn(cur, found)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, next, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < r.retries; attempt++ {
		err := r.client.Watch(ctx, txf, k)
		switch {
		case err == nil, errors.Is(err, ErrSkipWrite):
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("redis mutate %s: %w", key, err)
		}
	}
	return ErrConflict
}
