// Package audit is the append-only audit trail.
//
// Each channel is one bounded, insertion-ordered collection in the
// persistence store. Pruning happens on write: entries past the retention
// window are dropped before appending, then the oldest entries are evicted
// until the collection fits maxEntries. Reads never modify stored state.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"diagnostics-proxy/internal/persistence"
)

const (
	DefaultMaxEntries = 5000
	DefaultReadLimit  = 50
	MaxReadLimit      = 500
)

var ErrInvalidEntry = errors.New("audit: invalid entry")

// Log appends to and reads from audit channels.
type Log struct {
	store persistence.Store
	// clock is injectable for deterministic tests.
	clock func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewLog(store persistence.Store) *Log {
	return &Log{
		store:   store,
		clock:   time.Now,
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
}

// WithClock replaces the time source.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

func channelKey(channel string) string { return "audit:" + channel }

// Append records e in channel. retentionDays <= 0 disables age pruning;
// maxEntries <= 0 uses DefaultMaxEntries.
func (l *Log) Append(ctx context.Context, channel string, e Entry, retentionDays, maxEntries int) error {
	if l.store == nil {
		return errors.New("audit: store not configured")
	}
	if channel == "" || e.Action == "" || e.UserID == "" || !e.Outcome.Valid() {
		return ErrInvalidEntry
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	now := l.clock().UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.ID == "" {
		e.ID = l.newID(e.Timestamp)
	}

	err := persistence.Apply(ctx, l.store, channelKey(channel), func(raw []byte, found bool) ([]byte, error) {
		entries, err := decode(raw, found)
		if err != nil {
			return nil, err
		}
		// e is pruned with the rest when its own timestamp is already too old.
		entries = pruneExpired(append(entries, e), now, retentionDays)
		if over := len(entries) - maxEntries; over > 0 {
			entries = entries[over:]
		}
		return json.Marshal(entries)
	})
	if err != nil {
		return fmt.Errorf("audit append %s: %w", channel, err)
	}
	return nil
}

// Read filters channel by user and outcome, then pages the result in
// insertion order.
func (l *Log) Read(ctx context.Context, channel string, f Filter) (Page, error) {
	if l.store == nil {
		return Page{}, errors.New("audit: store not configured")
	}
	raw, found, err := l.store.Read(ctx, channelKey(channel))
	if err != nil {
		return Page{}, fmt.Errorf("audit read %s: %w", channel, err)
	}
	entries, err := decode(raw, found)
	if err != nil {
		return Page{}, fmt.Errorf("audit read %s: %w", channel, err)
	}

	matched := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Outcome != "" && e.Outcome != f.Outcome {
			continue
		}
		matched = append(matched, e)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	if limit > MaxReadLimit {
		limit = MaxReadLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	page := Page{Total: len(matched), Entries: []Entry{}}
	if offset >= len(matched) {
		return page, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Entries = matched[offset:end]
	return page, nil
}

func decode(raw []byte, found bool) ([]Entry, error) {
	if !found || len(raw) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode stored entries: %w", err)
	}
	return entries, nil
}

// pruneExpired keeps entries whose own timestamp is inside the retention window.
func pruneExpired(entries []Entry, now time.Time, retentionDays int) []Entry {
	if retentionDays <= 0 {
		return entries
	}
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	kept := entries[:0]
	for _, e := range entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func (l *Log) newID(ts time.Time) string {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), l.entropy).String()
}
