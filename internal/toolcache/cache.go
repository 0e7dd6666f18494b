// ABOUTME: TTL + LRU cache for discovered workspace tool lists.
// ABOUTME: Access-ordered eviction with hit/miss/eviction counters and a sweep goroutine.

// Package toolcache caches discovered tool lists per workspace. Entries
// expire after a TTL and the cache is size-bounded: inserts past the limit
// evict the least-recently-accessed entries first. Expired entries are
// treated as absent by readers even before the periodic sweep removes them.
package toolcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/latchwork/toolgate/internal/client"
)

// entry stores one cached tool list and its position in the access order.
type entry struct {
	key     string
	tools   []client.Tool
	expiry  time.Time
	element *list.Element
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// Cache is a thread-safe, TTL-based, size-limited tool list cache.
// A doubly-linked list tracks access order for O(1) LRU eviction.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	order     *list.List // keys in access order, least recent at front
	ttl       time.Duration
	maxSize   int
	hits      uint64
	misses    uint64
	evictions uint64
	done      chan struct{}
	closed    bool
}

// New creates a cache with the given TTL, maximum entry count, and sweep
// interval. A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int, sweepInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep(sweepInterval)
	return c
}

// Get returns the cached tools for key. An expired entry counts as a miss.
// A hit refreshes the entry's access position.
func (c *Cache) Get(key string) ([]client.Tool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiry) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}

	c.order.MoveToBack(e.element)
	c.hits++
	return e.tools, true
}

// Put stores tools under key with a fresh expiry. If the insert pushes the
// cache past its size limit, least-recently-accessed entries are evicted
// until the limit holds again.
func (c *Cache) Put(key string, tools []client.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.tools = tools
		e.expiry = time.Now().Add(c.ttl)
		c.order.MoveToBack(e.element)
		return
	}

	e := &entry{
		key:    key,
		tools:  tools,
		expiry: time.Now().Add(c.ttl),
	}
	e.element = c.order.PushBack(e.key)
	c.entries[key] = e

	for c.maxSize > 0 && len(c.entries) > c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		key, _ := front.Value.(string)
		if victim, ok := c.entries[key]; ok {
			c.removeLocked(victim)
			c.evictions++
		} else {
			c.order.Remove(front)
		}
	}
}

// Remove drops one key from the cache.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Clear empties the cache and resets all counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order.Init()
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

// removeLocked unlinks an entry. Must be called with mu held.
func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}

// sweep periodically removes expired entries.
func (c *Cache) sweep(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runSweep()
		case <-c.done:
			return
		}
	}
}

// runSweep removes every expired entry.
func (c *Cache) runSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for _, e := range c.entries {
		if now.After(e.expiry) {
			c.removeLocked(e)
		}
	}
}
