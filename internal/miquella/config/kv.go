package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TymurD/miquella/internal/miquella/store"
)

// ErrNotFound is returned by KV.Get when the requested key does not exist.
var ErrNotFound = errors.New("config: key not found")

// KV is a key/value table for settings changed at runtime, such as the
// persona when the sqlite persona backend is selected.
// Implementations must be safe for concurrent use.
type KV interface {
	// Get returns ErrNotFound when the key has not been set.
	Get(ctx context.Context, key string) (string, error)
	// Set creates or overwrites key.
	Set(ctx context.Context, key, value string) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
	// List returns every pair; an empty map when the table is empty.
	List(ctx context.Context) (map[string]string, error)
}

type sqliteKV struct {
	db *sql.DB
}

// NewKV returns a KV backed by the runtime_config table.
func NewKV(s *store.Store) KV {
	return &sqliteKV{db: s.DB()}
}

func (s *sqliteKV) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM runtime_config WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("config: get %q: %w", key, err)
	}
	return value, nil
}

func (s *sqliteKV) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("config: set %q: %w", key, err)
	}
	return nil
}

func (s *sqliteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runtime_config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("config: delete %q: %w", key, err)
	}
	return nil
}

func (s *sqliteKV) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM runtime_config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("config: list: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("config: list scan: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: list rows: %w", err)
	}
	return out, nil
}
