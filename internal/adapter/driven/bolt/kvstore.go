// Package bolt implements the KVStore port on a bbolt database file.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ericfisherdev/branchpanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.KVStore = (*Store)(nil)

const bucketCache = "cache" // key: cache key -> serialized entry

// Store is a KVStore backed by a single bbolt bucket.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the bbolt file at path and ensures the cache bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketCache))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket %q: %w", bucketCache, err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key, or driven.ErrKeyNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketCache)).Get([]byte(key))
		if v == nil {
			return driven.ErrKeyNotFound
		}
		// bbolt values are only valid for the life of the transaction.
		value = bytes.Clone(v)
		return nil
	})

	return value, err
}

// Set stores or replaces the value for key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketCache)).Put([]byte(key), value)
	})
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketCache)).Delete([]byte(key))
	})
}

// Keys lists every stored key starting with prefix, in key order.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketCache)).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})

	return keys, err
}
