package driven

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by KVStore.Get when no value is stored for a key.
var ErrKeyNotFound = errors.New("key not found")

// KVStore defines the driven port for the durable key-value store backing the
// response cache. Implementations must be safe for concurrent use.
type KVStore interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists every stored key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
