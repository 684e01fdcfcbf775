// Package persistence is the key-scoped store shared by the rate limiter,
// the audit log and saved views. It mirrors the host platform's association
// store: exact-key reads and whole-value writes, nothing more.
package persistence

import (
	"context"
	"errors"
)

var (
	// ErrSkipWrite is returned by a MutateFunc to leave the stored value untouched.
	ErrSkipWrite = errors.New("persistence: skip write")
	// ErrConflict means optimistic retries were exhausted.
	ErrConflict = errors.New("persistence: concurrent update conflict")
	ErrEmptyKey = errors.New("persistence: key is required")
)

// Store is the minimal read/update contract. Values are opaque JSON documents.
// No locking, transaction or compare-and-swap is implied.
type Store interface {
	Read(ctx context.Context, key string) (value []byte, found bool, err error)
	Update(ctx context.Context, key string, value []byte) error
}

// MutateFunc computes the next value from the current one.
// It may be invoked more than once when an implementation retries, so it must
// not have side effects beyond its return values.
type MutateFunc func(cur []byte, found bool) ([]byte, error)

// Mutator is implemented by stores that offer a conditional update primitive.
type Mutator interface {
	Mutate(ctx context.Context, key string, fn MutateFunc) error
}

// Apply runs fn against key, using the store's conditional update when it has
// one and a plain read-then-write otherwise. The plain path can lose updates
// under concurrent writers to the same key.
func Apply(ctx context.Context, s Store, key string, fn MutateFunc) error {
	if key == "" {
		return ErrEmptyKey
	}
	if m, ok := s.(Mutator); ok {
		return m.Mutate(ctx, key, fn)
	}
	cur, found, err := s.Read(ctx, key)
	if err != nil {
		return err
	}
	next, err := fn(cur, found)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Update(ctx, key, next)
}
