package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Memory is an in-process key/value cache with per-entry expiry. The clock is
// injectable so callers can control time in tests.
type Memory[V any] struct {
	mu         sync.Mutex
	items      map[string]entry[V]
	now        func() time.Time
	maxEntries int
}

// NewMemory returns an empty cache. maxEntries <= 0 means unbounded.
func NewMemory[V any](maxEntries int) *Memory[V] {
	return &Memory[V]{
		items:      make(map[string]entry[V]),
		now:        time.Now,
		maxEntries: maxEntries,
	}
}

// WithClock overrides the time source.
func (m *Memory[V]) WithClock(now func() time.Time) *Memory[V] {
	m.now = now
	return m
}

// Get returns the live value for key.
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || !m.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl.
func (m *Memory[V]) Set(key string, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
}

// SetIfAbsent stores value only when key has no live entry. It reports
// whether the value was stored.
func (m *Memory[V]) SetIfAbsent(key string, value V, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[key]; ok && m.now().Before(e.expiresAt) {
		return false
	}
	m.setLocked(key, value, ttl)
	return true
}

// Delete removes key.
func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Len reports the number of stored entries, live or not yet swept.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory[V]) setLocked(key string, value V, ttl time.Duration) {
	now := m.now()
	if m.maxEntries > 0 && len(m.items) >= m.maxEntries {
		if _, exists := m.items[key]; !exists {
			m.sweepLocked(now)
		}
	}
	m.items[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
}

// sweepLocked drops expired entries, then the entry closest to expiry if the
// cache is still full.
func (m *Memory[V]) sweepLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, e := range m.items {
		if !now.Before(e.expiresAt) {
			delete(m.items, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.expiresAt
		}
	}
	if len(m.items) >= m.maxEntries && oldestKey != "" {
		delete(m.items, oldestKey)
	}
}
