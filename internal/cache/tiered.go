// Package cache provides the two-tier cache shielding the network layer
// from redundant remote API calls. L1 is a bounded in-process LRU+TTL map;
// L2 is a persistent key/value store behind the KVStore interface.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultL1Capacity bounds the number of L1 entries
	DefaultL1Capacity = 1000
)

// KVStore is the persistent L2 tier boundary. Any durable key/value store
// with single-key atomicity can back it.
//
//go:generate mockgen -destination=mocks/mock_kvstore.go -package=mocks -source=tiered.go KVStore
type KVStore interface {
	// Get returns the stored value, or found=false on a miss or expiry
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores a value with the given TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeletePattern removes keys matching a single-wildcard glob,
	// returning the number removed
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Stats is a snapshot of cache effectiveness counters
type Stats struct {
	L1Hits           int64   `json:"l1_hits"`
	L1Misses         int64   `json:"l1_misses"`
	L2Hits           int64   `json:"l2_hits"`
	L2Misses         int64   `json:"l2_misses"`
	L1HitRate        float64 `json:"l1_hit_rate"`
	L2HitRate        float64 `json:"l2_hit_rate"`
	L1Size           int     `json:"l1_size"`
	L1Capacity       int     `json:"l1_capacity"`
	L1UtilizationPct float64 `json:"l1_utilization_pct"`
	Evictions        int64   `json:"evictions"`
}

// Cache is the two-tier cache. All L1 and counter mutation is funneled
// through one mutex; the L2 store provides its own atomicity.
type Cache struct {
	mu sync.Mutex
	l1 *l1Cache
	l2 KVStore

	l1Hits    int64
	l1Misses  int64
	l2Hits    int64
	l2Misses  int64
	evictions int64
}

// Option configures the cache
type Option func(*Cache)

// WithL1Capacity overrides the default L1 entry capacity
func WithL1Capacity(capacity int) Option {
	return func(c *Cache) {
		if capacity > 0 {
			c.l1 = newL1Cache(capacity)
		}
	}
}

// New creates a two-tier cache over the given L2 store
func New(l2 KVStore, opts ...Option) *Cache {
	c := &Cache{
		l1: newL1Cache(DefaultL1Capacity),
		l2: l2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get probes L1 first, then L2. On an L2 hit the value is promoted into
// L1 when the category is L1-eligible and the value is small enough.
// The cache is a performance optimization only: L2 read failures are
// logged and reported as misses so callers fall through to the
// authoritative fetch path.
func (c *Cache) Get(ctx context.Context, key, category string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	if value, ok := c.l1.get(key, now); ok {
		c.l1Hits++
		c.mu.Unlock()
		return value, true
	}
	c.l1Misses++
	c.mu.Unlock()

	value, found, err := c.l2.Get(ctx, key)
	if err != nil {
		slog.Warn("L2 cache read failed, treating as miss", "key", key, "error", err)
		found = false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !found {
		c.l2Misses++
		return nil, false
	}
	c.l2Hits++

	profile := ProfileFor(category)
	if c.promotable(profile, value) {
		if c.l1.set(key, value, profile.TTL, now) {
			c.evictions++
		}
	}
	return value, true
}

// Set always writes to L2, and additionally to L1 under the same
// eligibility rule as promotion. A ttl of zero uses the category default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, category string) error {
	profile := ProfileFor(category)
	if ttl <= 0 {
		ttl = profile.TTL
	}

	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		// A write failure only costs a future refetch
		slog.Warn("L2 cache write failed", "key", key, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.promotable(profile, value) {
		if c.l1.set(key, value, ttl, time.Now()) {
			c.evictions++
		}
	}
	return nil
}

// InvalidatePattern removes matching keys from both tiers and returns the
// total number of entries removed.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) int {
	c.mu.Lock()
	count := c.l1.deletePattern(pattern)
	c.mu.Unlock()

	l2Count, err := c.l2.DeletePattern(ctx, pattern)
	if err != nil {
		slog.Warn("L2 cache invalidation failed", "pattern", pattern, "error", err)
		return count
	}
	return count + l2Count
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		L1Hits:     c.l1Hits,
		L1Misses:   c.l1Misses,
		L2Hits:     c.l2Hits,
		L2Misses:   c.l2Misses,
		L1Size:     c.l1.size(),
		L1Capacity: c.l1.capacity,
		Evictions:  c.evictions,
	}
	if total := stats.L1Hits + stats.L1Misses; total > 0 {
		stats.L1HitRate = float64(stats.L1Hits) / float64(total)
	}
	if total := stats.L2Hits + stats.L2Misses; total > 0 {
		stats.L2HitRate = float64(stats.L2Hits) / float64(total)
	}
	if stats.L1Capacity > 0 {
		stats.L1UtilizationPct = float64(stats.L1Size) / float64(stats.L1Capacity) * 100
	}
	return stats
}

// promotable applies the L1 eligibility rule: the category must allow
// promotion and the serialized value must fit under both the category cap
// and the global threshold.
func (*Cache) promotable(profile Profile, value []byte) bool {
	if !profile.L1Eligible {
		return false
	}
	limit := profile.SizeCapBytes
	if limit <= 0 || limit > DefaultL1SizeCap {
		limit = DefaultL1SizeCap
	}
	return len(value) <= limit
}
