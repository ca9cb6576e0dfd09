package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/ericfisherdev/branchpanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.KVStore = (*KVRepo)(nil)

// KVRepo is the SQLite implementation of the KVStore port.
type KVRepo struct {
	db *DB
}

// NewKVRepo creates a new KVRepo.
func NewKVRepo(db *DB) *KVRepo {
	return &KVRepo{db: db}
}

// Get returns the value stored under key, or driven.ErrKeyNotFound.
func (r *KVRepo) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT value FROM cache_entries WHERE key = ?`

	var value []byte
	err := r.db.Reader.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Set stores or replaces the value for key.
func (r *KVRepo) Set(ctx context.Context, key string, value []byte) error {
	const query = `INSERT INTO cache_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := r.db.Writer.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (r *KVRepo) Remove(ctx context.Context, key string) error {
	const query = `DELETE FROM cache_entries WHERE key = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Keys lists every stored key starting with prefix, in key order.
func (r *KVRepo) Keys(ctx context.Context, prefix string) ([]string, error) {
	// substr avoids LIKE wildcard escaping for prefixes containing % or _.
	const query = `SELECT key FROM cache_entries WHERE substr(key, 1, ?) = ? ORDER BY key`

	rows, err := r.db.Reader.QueryContext(ctx, query, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys with prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}

	return keys, nil
}
