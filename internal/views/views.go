// Package views stores per-user named queries.
package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"diagnostics-proxy/internal/persistence"
)

const MaxPerUser = 50

var (
	ErrNotFound    = errors.New("view not found")
	ErrInvalidName = errors.New("view name must match [a-z0-9_-]{1,64}")
	ErrTooMany     = fmt.Errorf("at most %d saved views per user", MaxPerUser)
)

var nameRe = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

func ValidName(name string) bool { return nameRe.MatchString(name) }

// View is a saved query. Params holds the raw query fields and has passed
// query normalization when it was saved.
type View struct {
	Name      string         `json:"name"`
	Params    map[string]any `json:"params"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Store struct {
	store persistence.Store
	clock func() time.Time
}

func NewStore(s persistence.Store) *Store {
	return &Store{store: s, clock: time.Now}
}

func key(userID string) string { return "views:" + userID }

// List returns the user's views sorted by name.
func (s *Store) List(ctx context.Context, userID string) ([]View, error) {
	raw, found, err := s.store.Read(ctx, key(userID))
	if err != nil {
		return nil, fmt.Errorf("views list: %w", err)
	}
	views, err := decode(raw, found)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(views))
	for _, v := range views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save creates or replaces the view named v.Name. It reports whether the view
// was newly created.
func (s *Store) Save(ctx context.Context, userID string, v View) (View, bool, error) {
	if !ValidName(v.Name) {
		return View{}, false, ErrInvalidName
	}
	now := s.clock().UTC()
	var created bool
	err := persistence.Apply(ctx, s.store, key(userID), func(raw []byte, found bool) ([]byte, error) {
		views, err := decode(raw, found)
		if err != nil {
			return nil, err
		}
		if prev, ok := views[v.Name]; ok {
			v.CreatedAt = prev.CreatedAt
			created = false
		} else {
			if len(views) >= MaxPerUser {
				return nil, ErrTooMany
			}
			v.CreatedAt = now
			created = true
		}
		v.UpdatedAt = now
		views[v.Name] = v
		return json.Marshal(views)
	})
	if err != nil {
		return View{}, false, err
	}
	return v, created, nil
}

func (s *Store) Delete(ctx context.Context, userID, name string) error {
	return persistence.Apply(ctx, s.store, key(userID), func(raw []byte, found bool) ([]byte, error) {
		views, err := decode(raw, found)
		if err != nil {
			return nil, err
		}
		if _, ok := views[name]; !ok {
			return nil, ErrNotFound
		}
		delete(views, name)
		return json.Marshal(views)
	})
}

func decode(raw []byte, found bool) (map[string]View, error) {
	views := map[string]View{}
	if !found || len(raw) == 0 {
		return views, nil
	}
	if err := json.Unmarshal(raw, &views); err != nil {
		return nil, fmt.Errorf("decode views: %w", err)
	}
	return views, nil
}
