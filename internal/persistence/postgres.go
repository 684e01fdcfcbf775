package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"diagnostics-proxy/pkg/utils"
)

// Postgres keeps associations in a single jsonb table.
//
// Schema:
//
//	CREATE TABLE association_store (
//	  key        text PRIMARY KEY,
//	  value      jsonb NOT NULL,
//	  updated_at timestamptz NOT NULL DEFAULT now()
//	);
//
// A jsonb 'null' value is a placeholder row written by Mutate to take the row
// lock; it reads back as not found.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS association_store (
  key        text PRIMARY KEY,
  value      jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

// EnsureSchema creates the backing table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create association_store: %w", err)
	}
	return nil
}

func (p *Postgres) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	const q = `SELECT value FROM association_store WHERE key = $1`
	var v []byte
	if err := p.db.QueryRowContext(ctx, q, key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	if isJSONNull(v) {
		return nil, false, nil
	}
	return v, true, nil
}

const upsertSQL = `
INSERT INTO association_store (key, value, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

func (p *Postgres) Update(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	if _, err := p.db.ExecContext(ctx, upsertSQL, key, string(value)); err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	return nil
}

// Mutate serializes writers on the row lock.
func (p *Postgres) Mutate(ctx context.Context, key string, fn MutateFunc) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const placeholder = `
INSERT INTO association_store (key, value) VALUES ($1, 'null'::jsonb)
ON CONFLICT (key) DO NOTHING`
		if _, err := tx.ExecContext(ctx, placeholder, key); err != nil {
			return err
		}

		const lock = `SELECT value FROM association_store WHERE key = $1 FOR UPDATE`
		var cur []byte
		if err := tx.QueryRowContext(ctx, lock, key).Scan(&cur); err != nil {
			return err
		}
		found := !isJSONNull(cur)
		if !found {
			cur = nil
		}

		next, err := fn(cur, found)
		if err != nil {
			return err
		}
		const set = `UPDATE association_store SET value = $2::jsonb, updated_at = now() WHERE key = $1`
		_, err = tx.ExecContext(ctx, set, key, string(next))
		return err
	})
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mutate %s: %w", key, err)
	}
	return nil
}

func isJSONNull(v []byte) bool {
	return len(v) == 0 || string(v) == "null"
}
