package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/branchpanel/internal/domain/port/driven"
)

const (
	// DefaultCacheTTL is how long a fetched repository or branch list is reused.
	DefaultCacheTTL = 5 * time.Minute

	cacheKeyPrefix = "branchpanel:cache:"

	// ResourceRepositories is the cache resource holding the repository list.
	ResourceRepositories = "repositories"
)

// cacheEntry is the serialized form of a cached value. Timestamps are Unix
// milliseconds and ExpiresAt is always Timestamp + TTL.
type cacheEntry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
	ExpiresAt int64 `json:"expiresAt"`
}

// entryHeader decodes only the expiry of an entry.
type entryHeader struct {
	ExpiresAt int64 `json:"expiresAt"`
}

// Cache is a TTL cache over a driven.KVStore. It is a performance
// optimization only: store failures and malformed entries are logged and
// treated as misses, never returned to callers. A nil store disables caching.
//
// One Cache is created per process and shared by every loader.
type Cache struct {
	mu    sync.Mutex
	store driven.KVStore
	ttl   time.Duration
	now   func() time.Time
}

// NewCache creates a Cache with the given entry lifetime. ttl <= 0 uses DefaultCacheTTL.
func NewCache(store driven.KVStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// TTL returns the entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// CachePrefix returns the namespace prefix of every key for workspace.
func CachePrefix(workspace string) string {
	return cacheKeyPrefix + workspace + ":"
}

// CacheKey builds the key for a logical resource of a workspace.
func CacheKey(workspace, resource string) string {
	return CachePrefix(workspace) + resource
}

// BranchesResource returns the cache resource name for a repository's branches.
func BranchesResource(repoSlug string) string {
	return "branches:" + repoSlug
}

// CacheGet returns the cached value for key while it is unexpired. Expired or
// unreadable entries are removed and reported as a miss.
func CacheGet[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	if c == nil || c.store == nil {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, driven.ErrKeyNotFound) {
			slog.Warn("cache read failed", "key", key, "error", err)
		}
		return zero, false
	}

	var entry cacheEntry[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		slog.Warn("discarding malformed cache entry", "key", key, "error", err)
		c.remove(ctx, key)
		return zero, false
	}

	if c.now().UnixMilli() >= entry.ExpiresAt {
		c.remove(ctx, key)
		return zero, false
	}

	return entry.Data, true
}

// CacheSet stores data under key with a fresh expiry, replacing any previous entry.
func CacheSet[T any](ctx context.Context, c *Cache, key string, data T) {
	if c == nil || c.store == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	raw, err := json.Marshal(cacheEntry[T]{
		Data:      data,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(c.ttl).UnixMilli(),
	})
	if err != nil {
		slog.Warn("cache encode failed", "key", key, "error", err)
		return
	}

	if err := c.store.Set(ctx, key, raw); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}

// ClearAll removes every entry whose key starts with prefix and returns how
// many were removed.
func (c *Cache) ClearAll(ctx context.Context, prefix string) int {
	if c == nil || c.store == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		slog.Warn("cache key scan failed", "prefix", prefix, "error", err)
		return 0
	}

	removed := 0
	for _, key := range keys {
		if c.remove(ctx, key) {
			removed++
		}
	}
	return removed
}

// ClearExpired removes expired or unreadable entries under prefix and returns
// how many were removed.
func (c *Cache) ClearExpired(ctx context.Context, prefix string) int {
	if c == nil || c.store == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		slog.Warn("cache key scan failed", "prefix", prefix, "error", err)
		return 0
	}

	nowMillis := c.now().UnixMilli()
	removed := 0
	for _, key := range keys {
		raw, err := c.store.Get(ctx, key)
		if err != nil {
			continue
		}

		var hdr entryHeader
		if err := json.Unmarshal(raw, &hdr); err != nil || nowMillis >= hdr.ExpiresAt {
			if c.remove(ctx, key) {
				removed++
			}
		}
	}
	return removed
}

// remove deletes key, logging failures. Callers hold c.mu.
func (c *Cache) remove(ctx context.Context, key string) bool {
	if err := c.store.Remove(ctx, key); err != nil {
		slog.Warn("cache remove failed", "key", key, "error", err)
		return false
	}
	return true
}
