package quotaledger

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCacheTTL is how long a cached quota snapshot is served.
const DefaultCacheTTL = 60 * time.Second

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns a Clock backed by time.Now in UTC.
func SystemClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}

// Cache is an advisory read cache of UserQuota snapshots keyed by user id.
// Entries are immutable: they are replaced or removed, never edited.
//
// Each user has a generation that Invalidate bumps. A reader captures the
// generation before going to the store and stores its result with
// PutIfGeneration, which refuses the write if an invalidation happened in
// between.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   Clock
	entries map[string]cacheEntry
	gens    map[string]uint64

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	quota     UserQuota
	fetchedAt time.Time
}

// CacheStats reports lookup counters.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// NewCache creates a cache. A non-positive ttl uses DefaultCacheTTL and a
// nil clock uses SystemClock.
func NewCache(ttl time.Duration, clock Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
	}
}

// TTL returns the configured time to live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns a copy of the cached snapshot if present and fresh.
func (c *Cache) Get(userID string) (UserQuota, bool) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok || c.clock.Now().Sub(e.fetchedAt) >= c.ttl {
		c.misses.Add(1)
		return UserQuota{}, false
	}
	c.hits.Add(1)
	return e.quota.Clone(), true
}

// Generation returns the current invalidation generation for userID.
func (c *Cache) Generation(userID string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[userID]
}

// Put stores a snapshot unconditionally.
func (c *Cache) Put(q UserQuota) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(q)
}

// PutIfGeneration stores q only if no invalidation for q.UserID happened
// since gen was read and no newer version is already cached.
func (c *Cache) PutIfGeneration(q UserQuota, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[q.UserID] != gen {
		return false
	}
	if cur, ok := c.entries[q.UserID]; ok && cur.quota.Version > q.Version {
		return false
	}
	c.store(q)
	return true
}

// store must be called with the write lock held.
func (c *Cache) store(q UserQuota) {
	c.entries[q.UserID] = cacheEntry{quota: q.Clone(), fetchedAt: c.clock.Now()}
}

// Invalidate drops the entry for userID. It returns after the entry is gone,
// so a later Get on any goroutine cannot observe it.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.gens[userID]++
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.gens[id]++
	}
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
