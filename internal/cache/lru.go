package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUWithTTL is a size-bounded, thread-safe LRU cache whose entries expire
// after a fixed TTL. A zero TTL disables expiry.
type LRUWithTTL[K comparable, V any] struct {
	cache   *lru.Cache[K, *ttlEntry[V]]
	ttl     time.Duration
	mu      sync.Mutex
	hits    uint64
	misses  uint64
	evicted uint64
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// NewLRUWithTTL creates a cache holding at most size entries.
func NewLRUWithTTL[K comparable, V any](size int, ttl time.Duration) (*LRUWithTTL[K, V], error) {
	c, err := lru.New[K, *ttlEntry[V]](size)
	if err != nil {
		return nil, err
	}
	return &LRUWithTTL[K, V]{cache: c, ttl: ttl}, nil
}

// Get returns the value for key if present and not expired. Expired
// entries are removed on access.
func (c *LRUWithTTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.cache.Get(key)
	if !ok {
		c.misses++
		return zero, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		c.misses++
		return zero, false
	}

	c.hits++
	return entry.value, true
}

// Set stores value with the cache TTL.
func (c *LRUWithTTL[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value with an explicit TTL. Zero means no expiry.
func (c *LRUWithTTL[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if c.cache.Add(key, &ttlEntry[V]{value: value, expiresAt: expiresAt}) {
		c.evicted++
	}
}

// Delete removes key.
func (c *LRUWithTTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
}

// Len returns the number of entries, expired ones included.
func (c *LRUWithTTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Stats returns current counters.
func (c *LRUWithTTL[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
		Size:    c.cache.Len(),
		HitRate: hitRate,
	}
}

// CleanupExpired removes every expired entry and returns how many were
// dropped. It is O(n).
func (c *LRUWithTTL[K, V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, key := range c.cache.Keys() {
		if entry, ok := c.cache.Peek(key); ok && !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}

// NarrativeLRU adapts LRUWithTTL to the narrative cache contract used by
// the narrative service.
type NarrativeLRU struct {
	lru *LRUWithTTL[string, string]
}

// NewNarrativeLRU creates an in-process narrative cache.
func NewNarrativeLRU(size int, ttl time.Duration) (*NarrativeLRU, error) {
	l, err := NewLRUWithTTL[string, string](size, ttl)
	if err != nil {
		return nil, err
	}
	return &NarrativeLRU{lru: l}, nil
}

func (n *NarrativeLRU) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := n.lru.Get(key)
	return v, ok, nil
}

func (n *NarrativeLRU) Set(_ context.Context, key, text string, ttl time.Duration) error {
	if ttl <= 0 {
		n.lru.Set(key, text)
		return nil
	}
	n.lru.SetWithTTL(key, text, ttl)
	return nil
}

// Stats exposes the underlying counters.
func (n *NarrativeLRU) Stats() Stats {
	return n.lru.Stats()
}
