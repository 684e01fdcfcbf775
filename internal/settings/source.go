package settings

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Source is the read-only settings store.
type Source interface {
	Values(ctx context.Context) (map[string]string, error)
}

// Load reads the source and parses it. A source error is returned; callers
// must not guess settings when the store is unreachable.
func Load(ctx context.Context, src Source) (Settings, error) {
	values, err := src.Values(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return Parse(values), nil
}

// Static is a fixed set of values.
type Static map[string]string

func (s Static) Values(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// FromEnv collects SETTING_<KEY> variables, e.g. SETTING_PERMISSION_MODE=strict.
func FromEnv(environ []string) Static {
	const prefix = "SETTING_"
	out := Static{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		out[strings.ToLower(strings.TrimPrefix(k, prefix))] = v
	}
	return out
}

// Environ is FromEnv over the process environment.
func Environ() Static { return FromEnv(os.Environ()) }

// RedisHash reads settings from one Redis hash, so operators can change them
// without a restart. Fields missing from the hash fall back to Defaults.
type RedisHash struct {
	client redis.Cmdable
	key    string
}

func NewRedisHash(client redis.Cmdable, key string) *RedisHash {
	if key == "" {
		key = "diagproxy:settings"
	}
	return &RedisHash{client: client, key: key}
}

func (r *RedisHash) Values(ctx context.Context) (map[string]string, error) {
	v, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", r.key, err)
	}
	return v, nil
}

// Layered returns values from the first source overridden by later ones.
type Layered []Source

func (l Layered) Values(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	for _, src := range l {
		v, err := src.Values(ctx)
		if err != nil {
			return nil, err
		}
		for k, val := range v {
			out[k] = val
		}
	}
	return out, nil
}
