package pipeline

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"diagnostics-proxy/internal/metrics"
	"diagnostics-proxy/pkg/utils"
)

// Slots caps concurrently running queries per user.
type Slots interface {
	Acquire(ctx context.Context, userID string, limit int, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisSlots keeps the in-flight counters in Redis so the cap holds across
// processes.
type RedisSlots struct {
	rdb redis.Scripter
}

func NewRedisSlots(rdb redis.Scripter) *RedisSlots { return &RedisSlots{rdb: rdb} }

func (r *RedisSlots) Acquire(ctx context.Context, userID string, limit int, ttl time.Duration) (func(), bool, error) {
	key := utils.InFlightKey(userID)
	ok, err := utils.AcquireConcurrencyCap(ctx, r.rdb, key, limit, ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		_ = utils.ReleaseConcurrencyCap(context.WithoutCancel(ctx), r.rdb, key)
	}, true, nil
}

// AcquireQuerySlot takes one of the caller's concurrent query slots. With no
// Slots configured or a zero cap it always succeeds.
func (s *Session) AcquireQuerySlot(ctx context.Context) (func(), error) {
	limit := s.Settings.MaxConcurrentQueries
	if s.p.slots == nil || limit <= 0 {
		return func() {}, nil
	}
	// Slots leaked by a crashed process expire after the longest possible query.
	ttl := s.Settings.QueryTimeout + time.Minute
	release, ok, err := s.p.slots.Acquire(ctx, s.Caller.UserID, limit, ttl)
	if err != nil {
		s.log.Error("concurrency cap failed", "user_id", s.Caller.UserID, "err", err)
		return nil, newError(CodeInternal, "concurrency cap unavailable", err)
	}
	if !ok {
		metrics.RateLimitRejections.WithLabelValues("concurrency").Inc()
		return nil, &Error{
			Code:         CodeRateLimited,
			Message:      "too many queries running, retry when one finishes",
			RetryAfterMs: 1000,
		}
	}
	return release, nil
}
