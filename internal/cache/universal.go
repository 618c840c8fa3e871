package cache

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fieldsync/cachecore/internal/platform/clock"
	"github.com/fieldsync/cachecore/internal/platform/observability"
	"github.com/fieldsync/cachecore/internal/platform/resilience"
)

// Options overrides policy timings for a single call.
type Options struct {
	StaleTime time.Duration
	GCTime    time.Duration
	// SkipStore keeps the value memory-only.
	SkipStore bool
}

// Stats are the cumulative counters exposed by Metrics().
type Stats struct {
	Hits   int64
	Misses int64
	Stale  int64
	Errors int64
}

// UniversalCache orchestrates stale-while-revalidate reads over the
// memory layer, the persistent store and a caller-supplied fetcher.
//
// Read path: a fresh in-memory value returns with no I/O; on a memory
// miss the store is consulted and a fresh hydrated value returns; stale
// or absent values go to the fetcher, whose result is written through
// both layers. Concurrent misses on one key share a single outstanding
// fetch.
type UniversalCache struct {
	mem      *MemoryLayer
	store    Store // may be nil: memory-only mode
	policies *PolicyTable
	clk      clock.Clock
	logger   *observability.Logger
	metrics  *observability.Metrics
	version  string

	// breaker guards the persistent store so a dead backend stops being
	// consulted on the hot path. Persistence failures never propagate.
	breaker *resilience.CircuitBreaker

	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	stale  atomic.Int64
	errs   atomic.Int64
}

// UniversalCacheConfig configures a UniversalCache.
type UniversalCacheConfig struct {
	Memory   *MemoryLayer
	Store    Store
	Policies *PolicyTable
	Clock    clock.Clock
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Version  string
}

// NewUniversalCache creates the cache front-end.
func NewUniversalCache(cfg UniversalCacheConfig) *UniversalCache {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System
	}
	policies := cfg.Policies
	if policies == nil {
		policies = NewPolicyTable(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}

	return &UniversalCache{
		mem:      cfg.Memory,
		store:    cfg.Store,
		policies: policies,
		clk:      clk,
		logger:   logger.WithComponent("universal-cache"),
		metrics:  cfg.Metrics,
		version:  cfg.Version,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "persistent-store",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		}),
	}
}

// timings resolves stale/gc windows from options or the entity policy.
func (u *UniversalCache) timings(entity string, opts *Options) (staleTime, gcTime time.Duration) {
	policy := u.policies.For(entity)
	staleTime = policy.StaleTime
	gcTime = policy.GCTime
	if opts != nil {
		if opts.StaleTime > 0 {
			staleTime = opts.StaleTime
		}
		if opts.GCTime > 0 {
			gcTime = opts.GCTime
		}
	}
	return staleTime, gcTime
}

// Get implements stale-while-revalidate:
//  1. a fresh in-memory value returns immediately, no I/O;
//  2. on a memory miss, the persistent store hydrates the entry and a
//     fresh hydrated value returns;
//  3. otherwise the fetcher runs, its result is written through both
//     layers and returned. Fetch failures propagate unchanged and leave
//     the last good cache state in place.
//
// Concurrent callers missing on the same key share one fetch.
func (u *UniversalCache) Get(ctx context.Context, key Key, fetcher Fetcher, opts *Options) (any, error) {
	ck := key.String()
	staleTime, gcTime := u.timings(key.Entity, opts)
	now := u.clk.Now()

	hadValue := false

	if value, meta, ok := u.mem.Get(ck); ok {
		if now.Sub(meta.UpdatedAt) < staleTime {
			u.hits.Add(1)
			if u.metrics != nil {
				u.metrics.RecordHit(ctx, "memory")
			}
			return value, nil
		}
		hadValue = true
	} else if entry := u.hydrate(ctx, ck); entry != nil {
		value, err := entry.Decode()
		if err == nil {
			u.mem.Set(ck, value, entry.Meta, gcTime)
			if entry.Fresh(now, staleTime) {
				u.hits.Add(1)
				if u.metrics != nil {
					u.metrics.RecordHit(ctx, "store")
				}
				return value, nil
			}
			hadValue = true
		} else {
			u.logger.LogWarn(ctx, "dropping undecodable entry", "action", "hydrate", "key", ck, "error", err)
			u.storeDel(ctx, ck)
		}
	}

	if hadValue {
		u.stale.Add(1)
		if u.metrics != nil && u.metrics.StaleServed != nil {
			u.metrics.StaleServed.Add(ctx, 1)
		}
	} else {
		u.misses.Add(1)
		if u.metrics != nil {
			u.metrics.RecordMiss(ctx)
		}
	}

	value, err, _ := u.group.Do(ck, func() (any, error) {
		return u.fetchAndFill(ctx, key, ck, fetcher, staleTime, gcTime, opts != nil && opts.SkipStore)
	})
	if err != nil {
		u.errs.Add(1)
		if u.metrics != nil && u.metrics.FetchErrors != nil {
			u.metrics.FetchErrors.Add(ctx, 1)
		}
		return nil, err
	}
	return value, nil
}

// fetchAndFill runs the fetcher and writes the result through both layers.
func (u *UniversalCache) fetchAndFill(ctx context.Context, key Key, ck string, fetcher Fetcher, staleTime, gcTime time.Duration, skipStore bool) (any, error) {
	start := u.clk.Now()

	value, err := fetcher(ctx)

	if u.metrics != nil && u.metrics.FetchDuration != nil {
		u.metrics.FetchDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	u.fill(ctx, ck, value, staleTime, gcTime, skipStore)
	return value, nil
}

// fill writes a value into memory and, best-effort, the store.
func (u *UniversalCache) fill(ctx context.Context, ck string, value any, staleTime, gcTime time.Duration, skipStore bool) {
	now := u.clk.Now()

	entry, err := NewEntry(ck, value, now, staleTime, gcTime, u.version)
	if err != nil {
		// Unserializable values stay memory-only.
		u.logger.LogWarn(ctx, "value not serializable, keeping memory-only", "action", "fill", "key", ck, "error", err)
		u.mem.Set(ck, value, Metadata{CreatedAt: now, UpdatedAt: now, Version: u.version}, gcTime)
		return
	}

	u.mem.Set(ck, value, entry.Meta, gcTime)

	if skipStore || u.store == nil {
		return
	}

	if err := u.breaker.Execute(ctx, func(ctx context.Context) error {
		return u.store.Set(ctx, ck, entry)
	}); err != nil {
		u.warnStore(ctx, "set", ck, err)
	}
}

// hydrate reads an entry from the store through the breaker. Any failure
// is a miss.
func (u *UniversalCache) hydrate(ctx context.Context, ck string) *Entry {
	if u.store == nil {
		return nil
	}

	entry, err := resilience.ExecuteWithResult(u.breaker, ctx, func(ctx context.Context) (*Entry, error) {
		return u.store.Get(ctx, ck)
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			u.warnStore(ctx, "get", ck, err)
		}
		return nil
	}
	return entry
}

// Set writes a value directly, bypassing the fetcher.
func (u *UniversalCache) Set(ctx context.Context, key Key, value any, opts *Options) {
	staleTime, gcTime := u.timings(key.Entity, opts)
	u.fill(ctx, key.String(), value, staleTime, gcTime, opts != nil && opts.SkipStore)
}

// Invalidate removes entries by exact key or by tag. A tag matches every
// live key whose namespace component or entity component equals the tag;
// both axes are checked because callers invalidate by either.
func (u *UniversalCache) Invalidate(ctx context.Context, target string) int {
	if strings.Contains(target, "|") {
		u.mem.Delete(target)
		u.storeDel(ctx, target)
		return 1
	}

	removed := 0
	seen := make(map[string]bool)

	match := func(ck string) bool {
		k, err := ParseKey(ck)
		if err != nil {
			return false
		}
		return k.Namespace == target || k.Entity == target
	}

	for _, ck := range u.mem.Keys() {
		if match(ck) {
			u.mem.Delete(ck)
			u.storeDel(ctx, ck)
			seen[ck] = true
			removed++
		}
	}

	// Store-only keys (evicted from memory, still durable) are matched too.
	if u.store != nil {
		storeKeys, err := resilience.ExecuteWithResult(u.breaker, ctx, func(ctx context.Context) ([]string, error) {
			return u.store.Keys(ctx)
		})
		if err != nil {
			u.warnStore(ctx, "keys", target, err)
		} else {
			for _, ck := range storeKeys {
				if !seen[ck] && match(ck) {
					u.storeDel(ctx, ck)
					removed++
				}
			}
		}
	}

	return removed
}

// Prefetch populates the cache for a key without blocking the caller.
// Failures are logged only; a missed prefetch is never an error.
func (u *UniversalCache) Prefetch(ctx context.Context, key Key, fetcher Fetcher, opts *Options) {
	ck := key.String()
	staleTime, _ := u.timings(key.Entity, opts)

	if _, meta, ok := u.mem.Get(ck); ok && u.clk.Now().Sub(meta.UpdatedAt) < staleTime {
		return
	}

	go func() {
		if _, err := u.Get(context.WithoutCancel(ctx), key, fetcher, opts); err != nil {
			u.logger.LogDebug(ctx, "prefetch failed", "action", "prefetch", "key", ck, "error", err)
		}
	}()
}

// Metrics returns cumulative hit/miss/stale/error counters.
func (u *UniversalCache) Metrics() Stats {
	return Stats{
		Hits:   u.hits.Load(),
		Misses: u.misses.Load(),
		Stale:  u.stale.Load(),
		Errors: u.errs.Load(),
	}
}

// Memory exposes the memory layer for collaborators (refresher, quota).
func (u *UniversalCache) Memory() *MemoryLayer {
	return u.mem
}

// Policies exposes the policy table.
func (u *UniversalCache) Policies() *PolicyTable {
	return u.policies
}

// storeDel removes a key from the store, degrading silently.
func (u *UniversalCache) storeDel(ctx context.Context, ck string) {
	if u.store == nil {
		return
	}
	if err := u.breaker.Execute(ctx, func(ctx context.Context) error {
		return u.store.Del(ctx, ck)
	}); err != nil && !errors.Is(err, ErrNotFound) {
		u.warnStore(ctx, "del", ck, err)
	}
}

func (u *UniversalCache) warnStore(ctx context.Context, action, ck string, err error) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// Skip per-call noise while the breaker holds the store open.
		return
	}
	u.logger.LogWarn(ctx, "persistent store degraded to memory-only", "action", action, "key", ck, "error", err)
	if u.metrics != nil && u.metrics.StoreErrors != nil {
		u.metrics.StoreErrors.Add(ctx, 1)
	}
	if u.metrics != nil {
		u.metrics.RecordError(ctx, "store")
	}
}
