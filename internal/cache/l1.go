package cache

import (
	"time"
)

// l1Entry is a single bounded in-memory cache entry
type l1Entry struct {
	key          string
	value        []byte
	createdAt    time.Time
	lastAccessAt time.Time
	expiresAt    time.Time
}

// l1Cache is the bounded in-process tier. It is not safe for concurrent
// use on its own; the owning Cache serializes all access behind one mutex.
type l1Cache struct {
	entries  map[string]*l1Entry
	capacity int
}

func newL1Cache(capacity int) *l1Cache {
	return &l1Cache{
		entries:  make(map[string]*l1Entry, capacity),
		capacity: capacity,
	}
}

// get returns the entry value if present and unexpired, updating its
// last-access time on a hit.
func (c *l1Cache) get(key string, now time.Time) ([]byte, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	entry.lastAccessAt = now
	return entry.value, true
}

// set inserts or replaces an entry. Inserting over capacity evicts exactly
// one entry, the least recently accessed. Returns true if an eviction
// occurred.
func (c *l1Cache) set(key string, value []byte, ttl time.Duration, now time.Time) bool {
	evicted := false
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
		evicted = true
	}

	c.entries[key] = &l1Entry{
		key:          key,
		value:        value,
		createdAt:    now,
		lastAccessAt: now,
		expiresAt:    now.Add(ttl),
	}
	return evicted
}

// evictOldest removes the entry with the minimum lastAccessAt. The O(n)
// scan is acceptable for the small bounded capacities L1 is used with.
func (c *l1Cache) evictOldest() {
	var oldest *l1Entry
	for _, entry := range c.entries {
		if oldest == nil || entry.lastAccessAt.Before(oldest.lastAccessAt) {
			oldest = entry
		}
	}
	if oldest != nil {
		delete(c.entries, oldest.key)
	}
}

// deletePattern removes all keys matching the glob, returning the count
func (c *l1Cache) deletePattern(pattern string) int {
	count := 0
	for key := range c.entries {
		if MatchPattern(pattern, key) {
			delete(c.entries, key)
			count++
		}
	}
	return count
}

// size returns the current entry count
func (c *l1Cache) size() int {
	return len(c.entries)
}
