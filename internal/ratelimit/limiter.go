// Package ratelimit is a fixed-window counter per (user, class) kept in the
// shared persistence store.
//
// Windows reset at fixed boundaries, so up to twice the limit can pass in a
// short interval straddling a boundary. On stores without a conditional update,
// concurrent requests from one user may undercount and admit slightly more
// than the limit.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"diagnostics-proxy/internal/persistence"
)

// Class separates budgets so one endpoint cannot starve another.
type Class string

const (
	ClassQuery  Class = "query"
	ClassAction Class = "action"
)

// Window is the stored per-(user, class) record.
type Window struct {
	WindowStartMs int64 `json:"window_start_ms"`
	Count         int   `json:"count"`
	UpdatedAtMs   int64 `json:"updated_at_ms"`
}

type Result struct {
	Allowed      bool  `json:"allowed"`
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
	Count        int   `json:"count"`
	Limit        int   `json:"limit"`
}

var ErrInvalidArgument = errors.New("ratelimit: invalid argument")

// Key is the persistence key for a user's window in class.
func Key(userID string, class Class) string {
	return "ratelimit:" + string(class) + ":" + userID
}

// Evaluate applies one attempt to the current window. write reports whether
// next must be persisted; a denied attempt leaves the window as it was.
func Evaluate(cur Window, found bool, limit int, window time.Duration, now time.Time) (next Window, res Result, write bool) {
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()

	if !found || nowMs-cur.WindowStartMs >= windowMs || nowMs < cur.WindowStartMs {
		next = Window{WindowStartMs: nowMs, Count: 1, UpdatedAtMs: nowMs}
		return next, Result{Allowed: true, Count: 1, Limit: limit}, true
	}
	if cur.Count < limit {
		next = cur
		next.Count++
		next.UpdatedAtMs = nowMs
		return next, Result{Allowed: true, Count: next.Count, Limit: limit}, true
	}
	retry := windowMs - (nowMs - cur.WindowStartMs)
	return cur, Result{Allowed: false, RetryAfterMs: retry, Count: cur.Count, Limit: limit}, false
}

type Limiter struct {
	store persistence.Store
}

func New(store persistence.Store) *Limiter { return &Limiter{store: store} }

// CheckAndIncrement counts one attempt by userID in class. A limit of zero or
// less disables limiting for the class. Store errors are returned as-is; the
// caller decides whether to fail open or closed.
func (l *Limiter) CheckAndIncrement(ctx context.Context, userID string, class Class, limit int, window time.Duration, now time.Time) (Result, error) {
	if userID == "" || class == "" {
		return Result{}, fmt.Errorf("%w: user and class are required", ErrInvalidArgument)
	}
	if limit <= 0 {
		return Result{Allowed: true}, nil
	}
	if window <= 0 {
		return Result{}, fmt.Errorf("%w: window must be positive", ErrInvalidArgument)
	}

	var res Result
	err := persistence.Apply(ctx, l.store, Key(userID, class), func(raw []byte, found bool) ([]byte, error) {
		var cur Window
		if found {
			if err := json.Unmarshal(raw, &cur); err != nil {
				// A corrupt record starts a fresh window.
				found = false
			}
		}
		next, r, write := Evaluate(cur, found, limit, window, now)
		res = r
		if !write {
			return nil, persistence.ErrSkipWrite
		}
		return json.Marshal(next)
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s for %s: %w", class, userID, err)
	}
	return res, nil
}
