package cache

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// entry represents a single cache entry
type entry[V any] struct {
	value    V
	cachedAt time.Time
}

// MemoryCache is an in-memory implementation of the Cache interface.
// Expired entries are ignored on read and only removed by Prune.
type MemoryCache[V any] struct {
	data  map[string]entry[V]
	mu    sync.Mutex
	clock clock.PassiveClock
}

// NewMemoryCache creates a new in-memory cache using the wall clock
func NewMemoryCache[V any]() *MemoryCache[V] {
	return NewMemoryCacheWithClock[V](clock.RealClock{})
}

// NewMemoryCacheWithClock creates a new in-memory cache driven by clk
func NewMemoryCacheWithClock[V any](clk clock.PassiveClock) *MemoryCache[V] {
	return &MemoryCache[V]{
		data:  make(map[string]entry[V]),
		clock: clk,
	}
}

// Put stores value under key, overwriting any previous entry
func (m *MemoryCache[V]) Put(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = entry[V]{
		value:    value,
		cachedAt: m.clock.Now(),
	}
}

// Get returns the value for key if it was stored no more than ttl ago
func (m *MemoryCache[V]) Get(key string, ttl time.Duration) (V, bool) {
	m.mu.Lock()
	e, exists := m.data[key]
	m.mu.Unlock()

	var zero V
	if !exists {
		return zero, false
	}
	if m.clock.Since(e.cachedAt) > ttl {
		return zero, false
	}
	return e.value, true
}

// Prune removes entries older than ttl and returns how many were dropped
func (m *MemoryCache[V]) Prune(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleaned := 0
	for key, e := range m.data {
		if m.clock.Since(e.cachedAt) > ttl {
			delete(m.data, key)
			cleaned++
		}
	}
	return cleaned
}

// Len returns the number of stored entries, fresh or not
func (m *MemoryCache[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
