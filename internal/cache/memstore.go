package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldsync/cachecore/internal/platform/clock"
)

// MemoryStore is a Store kept entirely in process memory. It backs
// single-process deployments that run without a persistent backend and
// serves as the reference implementation of the shared prune semantics:
// an age pass first, then an oldest-by-update trim down to the limit.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int
	maxAge     time.Duration
	clk        clock.Clock
	pruning    atomic.Bool
}

// NewMemoryStore creates an in-memory persistent store.
func NewMemoryStore(maxEntries int, maxAge time.Duration, clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.System
	}
	return &MemoryStore{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
		maxAge:     maxAge,
		clk:        clk,
	}
}

// Get retrieves an entry. Entries past their ExpiresAt read as misses
// and are removed, matching the TTL behavior of the durable backends.
func (m *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	if m.clk.Now().After(entry.Meta.ExpiresAt) {
		m.mu.Lock()
		if current, still := m.entries[key]; still && current == entry {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	copied := *entry
	return &copied, nil
}

// Set stores an entry and kicks an asynchronous prune.
func (m *MemoryStore) Set(ctx context.Context, key string, entry *Entry) error {
	copied := *entry

	m.mu.Lock()
	m.entries[key] = &copied
	m.mu.Unlock()

	m.pruneAsync()

	return nil
}

// Del removes a key.
func (m *MemoryStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Clear removes every entry.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
	return nil
}

// Keys lists all live serialized keys.
func (m *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// Prune deletes entries older than maxAge, then trims oldest-first by
// update timestamp until at most maxEntries remain.
func (m *MemoryStore) Prune(ctx context.Context, maxEntries int, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0

	if maxAge > 0 {
		cutoff := m.clk.Now().Add(-maxAge)
		for key, entry := range m.entries {
			if entry.Meta.UpdatedAt.Before(cutoff) {
				delete(m.entries, key)
				removed++
			}
		}
	}

	if maxEntries > 0 {
		if over := len(m.entries) - maxEntries; over > 0 {
			type aged struct {
				key       string
				updatedAt time.Time
			}
			all := make([]aged, 0, len(m.entries))
			for key, entry := range m.entries {
				all = append(all, aged{key: key, updatedAt: entry.Meta.UpdatedAt})
			}
			sort.Slice(all, func(i, j int) bool {
				return all[i].updatedAt.Before(all[j].updatedAt)
			})
			for _, victim := range all[:over] {
				delete(m.entries, victim.key)
				removed++
			}
		}
	}

	return removed, nil
}

// pruneAsync runs one prune in the background. A second trigger while
// one is running is a no-op.
func (m *MemoryStore) pruneAsync() {
	if m.maxEntries <= 0 && m.maxAge <= 0 {
		return
	}
	if !m.pruning.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer m.pruning.Store(false)
		_, _ = m.Prune(context.Background(), m.maxEntries, m.maxAge)
	}()
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op; there is no backend connection.
func (m *MemoryStore) Close() error {
	return nil
}
