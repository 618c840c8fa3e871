package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/fieldsync/cachecore/internal/platform/clock"
)

// memoryItem is one live in-process entry.
type memoryItem struct {
	key       string
	value     any
	meta      Metadata
	expiresAt time.Time
}

// MemoryLayer is the in-process LRU tier. It holds decoded values plus
// their metadata so freshness checks never touch the persistent store.
type MemoryLayer struct {
	maxSize int
	items   map[string]*list.Element
	lru     *list.List
	mu      sync.RWMutex
	clk     clock.Clock
	stopCh  chan struct{}
	stopOne sync.Once
}

// NewMemoryLayer creates an in-memory layer holding at most maxSize entries.
func NewMemoryLayer(maxSize int, clk clock.Clock) *MemoryLayer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if clk == nil {
		clk = clock.System
	}

	m := &MemoryLayer{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		clk:     clk,
		stopCh:  make(chan struct{}),
	}

	go m.cleanup()

	return m
}

// Get returns the live value and metadata for a serialized key.
func (m *MemoryLayer) Get(key string) (any, Metadata, bool) {
	m.mu.RLock()
	element, exists := m.items[key]
	m.mu.RUnlock()

	if !exists {
		return nil, Metadata{}, false
	}

	item := element.Value.(*memoryItem)

	if m.clk.Now().After(item.expiresAt) {
		m.removeIfExpired(key, element)
		return nil, Metadata{}, false
	}

	m.mu.Lock()
	m.lru.MoveToFront(element)
	m.mu.Unlock()

	return item.value, item.meta, true
}

// Set stores a value with its metadata, keeping it until gcTime elapses.
func (m *MemoryLayer) Set(key string, value any, meta Metadata, gcTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := m.clk.Now().Add(gcTime)

	if element, exists := m.items[key]; exists {
		item := element.Value.(*memoryItem)
		item.value = value
		item.meta = meta
		item.expiresAt = expiresAt
		m.lru.MoveToFront(element)
		return
	}

	item := &memoryItem{
		key:       key,
		value:     value,
		meta:      meta,
		expiresAt: expiresAt,
	}

	element := m.lru.PushFront(item)
	m.items[key] = element

	if m.lru.Len() > m.maxSize {
		m.evictOldest()
	}
}

// Delete removes a key.
func (m *MemoryLayer) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(key)
}

// Clear removes every entry.
func (m *MemoryLayer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.lru.Init()
}

// Keys returns the serialized keys of all live entries.
func (m *MemoryLayer) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of live entries.
func (m *MemoryLayer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Close stops the cleanup goroutine.
func (m *MemoryLayer) Close() {
	m.stopOne.Do(func() { close(m.stopCh) })
}

// removeIfExpired drops an entry seen expired under the read lock. The
// element identity and deadline are re-verified under the write lock; a
// Set that replaced or refreshed the entry in between must survive.
func (m *MemoryLayer) removeIfExpired(key string, element *list.Element) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.items[key]
	if !exists || current != element {
		return
	}
	item := current.Value.(*memoryItem)
	if m.clk.Now().After(item.expiresAt) {
		m.remove(key)
	}
}

// remove removes an item (caller must hold lock)
func (m *MemoryLayer) remove(key string) {
	if element, exists := m.items[key]; exists {
		m.lru.Remove(element)
		delete(m.items, key)
	}
}

// evictOldest removes the least-recently-used item (caller must hold lock)
func (m *MemoryLayer) evictOldest() {
	element := m.lru.Back()
	if element != nil {
		item := element.Value.(*memoryItem)
		m.remove(item.key)
	}
}

// cleanup periodically drops entries past their gc deadline.
func (m *MemoryLayer) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryLayer) cleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	var toRemove []string

	for key, element := range m.items {
		item := element.Value.(*memoryItem)
		if now.After(item.expiresAt) {
			toRemove = append(toRemove, key)
		}
	}

	for _, key := range toRemove {
		m.remove(key)
	}
}
