// Package sqlite implements the KVStore port on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

const sharedPragmas = "_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// DB holds the cache database: a single writer connection, so concurrent cache
// writes never hit "database is locked", and a small reader pool.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
}

// fileDSN enables WAL and a 16MB page cache for an on-disk database.
func fileDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&%s&_pragma=cache_size(-16000)", path, sharedPragmas)
}

// memoryDSN names a shared in-memory database. The name is percent-encoded so
// it cannot leak into the query string.
func memoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", url.PathEscape(name), sharedPragmas)
}

// Open opens the cache database at dbPath and brings its schema up to date.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	db, err := NewDB(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewDB opens the database file at dbPath without migrating it.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	return openDSN(ctx, fileDSN(dbPath))
}

func openDSN(ctx context.Context, dsn string) (*DB, error) {
	writer, err := openPool(ctx, dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}

	reader, err := openPool(ctx, dsn, 4)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader}, nil
}

func openPool(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(maxConns)

	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Close closes both reader and writer connections. Returns the first error encountered.
func (db *DB) Close() error {
	var firstErr error

	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}

	if err := db.Writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}

	return firstErr
}
