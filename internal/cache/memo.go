package cache

import (
	"sync"
	"time"
)

// Memo is an in-process TTL memo shared by the route finder and the
// arbitrage detector. Entries are evicted lazily on access; a write race on
// the same key resolves last-writer-wins (search is idempotent, losing a
// redundant computation is fine).
type Memo struct {
	mu      sync.Mutex
	entries map[string]memoEntry
	clock   func() time.Time

	hits   uint64
	misses uint64
}

type memoEntry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration
}

func NewMemo() *Memo {
	return &Memo{
		entries: make(map[string]memoEntry),
		clock:   time.Now,
	}
}

// WithClock overrides the time source; tests inject a deterministic clock.
func (m *Memo) WithClock(clock func() time.Time) *Memo {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	return m
}

// Get returns the cached value for key if it has not outlived its TTL.
// Expired entries are evicted on the spot and reported as misses.
func (m *Memo) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, false
	}
	if m.clock().Sub(e.createdAt) >= e.ttl {
		delete(m.entries, key)
		m.misses++
		return nil, false
	}
	m.hits++
	return e.value, true
}

// Set stores value under key with the given TTL, replacing any prior entry.
func (m *Memo) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoEntry{value: value, createdAt: m.clock(), ttl: ttl}
}

// Delete removes a key.
func (m *Memo) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len counts live (possibly expired but not yet evicted) entries.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Purge sweeps expired entries eagerly. Not required for correctness; the
// monitor calls it between scan iterations to bound memory.
func (m *Memo) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	removed := 0
	for k, e := range m.entries {
		if now.Sub(e.createdAt) >= e.ttl {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Stats returns cumulative hit/miss counters.
func (m *Memo) Stats() (hits, misses uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}
