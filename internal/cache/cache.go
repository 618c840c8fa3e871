// Package cache implements the two-tier data cache: a fast in-memory layer
// with LRU eviction, a durable key-value store behind it, and a universal
// front-end providing stale-while-revalidate reads over a caller-supplied
// fetcher.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is not found in cache
	ErrNotFound = errors.New("cache: key not found")

	// ErrInvalidValue is returned when a cached value cannot be decoded
	ErrInvalidValue = errors.New("cache: invalid value")

	// ErrStoreUnavailable is returned by stores that cannot reach their backend.
	// Callers treat it as a miss; persistence is best-effort.
	ErrStoreUnavailable = errors.New("cache: store unavailable")
)

// Store is the durable key-value layer behind the memory cache. The key
// space is the serialized Key string. Implementations must be safe for
// concurrent use; each key-level write is independent and there are no
// cross-key transactions.
type Store interface {
	// Get retrieves an entry. Returns ErrNotFound for missing keys and
	// for entries whose schema version no longer matches.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores an entry. Implementations trigger an asynchronous,
	// non-blocking prune after the write.
	Set(ctx context.Context, key string, entry *Entry) error

	// Del removes a key.
	Del(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Prune deletes entries older than maxAge, then trims the
	// oldest-by-timestamp entries until at most maxEntries remain.
	// Returns the number of entries removed.
	Prune(ctx context.Context, maxEntries int, maxAge time.Duration) (int, error)

	// Keys lists all live serialized keys. Used for tag invalidation.
	Keys(ctx context.Context) ([]string, error)

	// Close releases the backend connection.
	Close() error
}

// Fetcher produces a value for a cache key from the remote data source.
// The cache imposes no retry or timeout; failures propagate to the caller.
type Fetcher func(ctx context.Context) (any, error)
