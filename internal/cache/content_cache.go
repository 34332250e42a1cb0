// Package cache provides the content-addressed result cache and the shared Redis client.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	DefaultTTL        = 30 * time.Minute
	DefaultMaxEntries = 100
)

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CacheEntry is a stored value with its insertion time.
type CacheEntry[T any] struct {
	Value     T
	CreatedAt time.Time
}

// Options configures a ContentCache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries    int   `json:"entries"`
	MaxEntries int   `json:"maxEntries"`
	TTLSeconds int64 `json:"ttlSeconds"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	Expired    int64 `json:"expired"`
}

// ContentCache is a bounded, TTL-expiring map evicting by insertion order.
// Reads never refresh an entry's position.
type ContentCache[T any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	order *list.List // front is the oldest insertion
	items map[string]*list.Element

	hits, misses, evictions, expired int64
}

type item[T any] struct {
	key   string
	entry CacheEntry[T]
}

// New creates a ContentCache. Non-positive TTL or MaxEntries fall back to the defaults.
func New[T any](opts Options) *ContentCache[T] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ContentCache[T]{
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        opts.Now,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns the value for key. Expired entries are removed and reported absent.
func (c *ContentCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	it := el.Value.(*item[T])
	if c.isExpired(it.entry) {
		c.removeElement(el)
		c.expired++
		c.misses++
		return zero, false
	}

	c.hits++
	return it.entry.Value, true
}

// Set stores value under key. Re-setting a key counts as a fresh insertion.
// When the cache is full the single oldest entry is evicted first.
func (c *ContentCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	if c.order.Len() >= c.maxEntries {
		if oldest := c.order.Front(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}

	el := c.order.PushBack(&item[T]{
		key:   key,
		entry: CacheEntry[T]{Value: value, CreatedAt: c.now()},
	})
	c.items[key] = el
}

// Has reports whether a live entry exists for key.
func (c *ContentCache[T]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	if c.isExpired(el.Value.(*item[T]).entry) {
		c.removeElement(el)
		c.expired++
		return false
	}
	return true
}

// Take returns and removes the value for key.
func (c *ContentCache[T]) Take(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	it := el.Value.(*item[T])
	c.removeElement(el)
	if c.isExpired(it.entry) {
		c.expired++
		return zero, false
	}
	return it.entry.Value, true
}

// Delete removes key if present.
func (c *ContentCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Clear removes every entry.
func (c *ContentCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of stored entries, including expired ones not yet collected.
func (c *ContentCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns the current counters.
func (c *ContentCache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:    c.order.Len(),
		MaxEntries: c.maxEntries,
		TTLSeconds: int64(c.ttl / time.Second),
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		Expired:    c.expired,
	}
}

func (c *ContentCache[T]) isExpired(e CacheEntry[T]) bool {
	return c.now().Sub(e.CreatedAt) > c.ttl
}

func (c *ContentCache[T]) removeElement(el *list.Element) {
	it := el.Value.(*item[T])
	delete(c.items, it.key)
	c.order.Remove(el)
}
