package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldsync/cachecore/internal/platform/observability"
)

// storeSchemaVersion is bumped on incompatible envelope changes. Entries
// written under another version read as misses and are deleted, so a
// version bump amounts to a cache wipe as stale entries are touched.
const storeSchemaVersion = 1

// storeEnvelope wraps an entry with the schema version it was written under.
type storeEnvelope struct {
	Schema int    `json:"schema"`
	Entry  *Entry `json:"entry"`
}

// RedisStore is the Redis-backed persistent store. A sorted set indexes
// keys by update timestamp so prune can evict oldest-first without
// scanning the key space.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxEntries int
	maxAge     time.Duration
	logger     *observability.Logger
	pruning    atomic.Bool
}

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	MaxEntries int
	MaxAge     time.Duration
	Logger     *observability.Logger
}

// NewRedisStore connects to Redis and returns a persistent store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cachecore"
	}

	return &RedisStore{
		client:     client,
		prefix:     prefix,
		maxEntries: cfg.MaxEntries,
		maxAge:     cfg.MaxAge,
		logger:     cfg.Logger,
	}, nil
}

func (r *RedisStore) dataKey(key string) string {
	return r.prefix + ":entry:" + key
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":index"
}

// Get retrieves an entry. Schema-mismatched entries are deleted and
// reported as ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	val, err := r.client.Get(ctx, r.dataKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	var env storeEnvelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	if env.Schema != storeSchemaVersion || env.Entry == nil {
		_ = r.Del(ctx, key)
		return nil, ErrNotFound
	}

	return env.Entry, nil
}

// Set stores an entry and kicks an asynchronous prune. The entry's
// ExpiresAt also becomes the Redis TTL so abandoned keys age out on
// their own.
func (r *RedisStore) Set(ctx context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(storeEnvelope{Schema: storeSchemaVersion, Entry: entry})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	ttl := time.Until(entry.Meta.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.dataKey(key), data, ttl)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(entry.Meta.UpdatedAt.UnixMilli()),
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	r.pruneAsync()

	return nil
}

// Del removes a key and its index entry.
func (r *RedisStore) Del(ctx context.Context, key string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.dataKey(key))
	pipe.ZRem(ctx, r.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Clear removes every entry in this store's prefix.
func (r *RedisStore) Clear(ctx context.Context) error {
	keys, err := r.Keys(ctx)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, r.dataKey(key))
	}
	pipe.Del(ctx, r.indexKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis clear error: %w", err)
	}
	return nil
}

// Keys lists all indexed keys.
func (r *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys error: %w", err)
	}
	return keys, nil
}

// Prune deletes entries older than maxAge, then trims oldest-first until
// at most maxEntries remain.
func (r *RedisStore) Prune(ctx context.Context, maxEntries int, maxAge time.Duration) (int, error) {
	removed := 0

	// Age pass: everything updated before now-maxAge goes.
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).UnixMilli()
		old, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
			Min: "-inf",
			Max: fmt.Sprintf("%d", cutoff),
		}).Result()
		if err != nil {
			return 0, fmt.Errorf("redis prune scan error: %w", err)
		}
		for _, key := range old {
			if err := r.Del(ctx, key); err != nil {
				return removed, err
			}
			removed++
		}
	}

	// Count pass: trim oldest-by-timestamp down to the limit.
	if maxEntries > 0 {
		count, err := r.client.ZCard(ctx, r.indexKey()).Result()
		if err != nil {
			return removed, fmt.Errorf("redis prune count error: %w", err)
		}
		if over := int(count) - maxEntries; over > 0 {
			oldest, err := r.client.ZRange(ctx, r.indexKey(), 0, int64(over-1)).Result()
			if err != nil {
				return removed, fmt.Errorf("redis prune range error: %w", err)
			}
			for _, key := range oldest {
				if err := r.Del(ctx, key); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}

	return removed, nil
}

// pruneAsync runs one prune in the background. A second trigger while one
// is running is a no-op.
func (r *RedisStore) pruneAsync() {
	if r.maxEntries <= 0 && r.maxAge <= 0 {
		return
	}
	if !r.pruning.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer r.pruning.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := r.Prune(ctx, r.maxEntries, r.maxAge); err != nil && r.logger != nil {
			r.logger.LogWarn(ctx, "background prune failed", "action", "prune", "error", err)
		}
	}()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Client exposes the underlying connection for collaborators that share
// it (broadcast channel, quota probe).
func (r *RedisStore) Client() *redis.Client {
	return r.client
}
