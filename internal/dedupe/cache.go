// ABOUTME: Thread-safe TTL cache recording which admission events were handled.
// ABOUTME: Entries carry the event's origin time and are swept opportunistically.

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTTL is how long a handled event key is remembered.
const DefaultTTL = 20 * time.Second

// DefaultMaxSize caps the number of remembered keys.
const DefaultMaxSize = 10_000

// cacheEntry stores the origin time and list element for a cached key.
type cacheEntry struct {
	at      time.Time
	element *list.Element
}

// Cache is a TTL-based, size-limited record of seen keys. Insertion order
// is kept in a doubly-linked list so the size cap evicts in O(1).
//
// There is no background goroutine. Expired entries are ignored by lookups
// and removed by Sweep.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	clock   clock.Clock
}

// New creates a cache. A nil clk uses the wall clock.
func New(ttl time.Duration, maxSize int, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		clock:   clk,
	}
}

// Check returns true if the key has been seen and is not expired.
func (c *Cache) Check(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	return !c.expired(entry, c.clock.Now())
}

// CheckAndMark atomically checks if a key has been seen and marks it with
// time at if not. Returns true if the key was already seen (duplicate),
// false if it's new and now marked.
func (c *Cache) CheckAndMark(key string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && !c.expired(entry, c.clock.Now()) {
		return true
	}

	c.markLocked(key, at)
	return false
}

// Mark records that a key was seen at the given time. If the cache is at
// capacity, the oldest entry is evicted to make room.
func (c *Cache) Mark(key string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, at)
}

// Sweep removes all expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, entry := range c.seen {
		if c.expired(entry, now) {
			c.order.Remove(entry.element)
			delete(c.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string, at time.Time) {
	if entry, exists := c.seen[key]; exists {
		entry.at = at
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		at:      at,
		element: elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) expired(entry *cacheEntry, now time.Time) bool {
	return now.Sub(entry.at) > c.ttl
}
