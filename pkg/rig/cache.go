package rig

import (
	"sync"
	"sync/atomic"
	"time"
)

// CacheForever as a timeout keeps entries valid until invalidated.
const CacheForever time.Duration = -1

type cacheEntry struct {
	value  Value
	at     time.Time
	static bool
}

// Cache holds the last observed value per Key. An entry is fresh while
// its age does not exceed the timeout for its op. Stale entries stay
// readable through Peek.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]cacheEntry
	timeout time.Duration
	perOp   map[Op]time.Duration
	now     func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// NewCache creates a cache. A zero timeout disables freshness hits.
func NewCache(timeout time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[Key]cacheEntry),
		timeout: timeout,
		perOp:   make(map[Op]time.Duration),
		now:     now,
	}
}

// SetTimeout changes the default timeout.
func (c *Cache) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Timeout returns the default timeout.
func (c *Cache) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeout
}

// SetOpTimeout overrides the timeout for one op.
func (c *Cache) SetOpTimeout(op Op, d time.Duration) {
	c.mu.Lock()
	c.perOp[op] = d
	c.mu.Unlock()
}

// OpTimeout returns the effective timeout for op.
func (c *Cache) OpTimeout(op Op) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeoutFor(op)
}

func (c *Cache) timeoutFor(op Op) time.Duration {
	if d, ok := c.perOp[op]; ok {
		return d
	}
	return c.timeout
}

// Get returns a fresh entry and its age.
func (c *Cache) Get(k Key) (Value, time.Duration, bool) {
	c.mu.RLock()
	e, ok := c.entries[k]
	timeout := c.timeoutFor(k.Op)
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return Value{}, 0, false
	}
	age := c.now().Sub(e.at)
	fresh := e.static || timeout == CacheForever || (timeout > 0 && age <= timeout)
	if !fresh {
		c.misses.Add(1)
		return Value{}, age, false
	}
	c.hits.Add(1)
	return e.value, age, true
}

// Peek returns an entry regardless of freshness.
func (c *Cache) Peek(k Key) (Value, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[k]
	return e.value, e.at, ok
}

// Put stores v under k.
func (c *Cache) Put(k Key, v Value) {
	c.put(k, v, false)
}

// PutStatic stores v under k, never expiring.
func (c *Cache) PutStatic(k Key, v Value) {
	c.put(k, v, true)
}

func (c *Cache) put(k Key, v Value, static bool) {
	at := c.now()
	c.mu.Lock()
	c.entries[k] = cacheEntry{value: v, at: at, static: static}
	c.mu.Unlock()
}

// Invalidate drops the given keys.
func (c *Cache) Invalidate(keys ...Key) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
}

// InvalidateFunc drops every non-static entry matching pred and returns
// how many were dropped.
func (c *Cache) InvalidateFunc(pred func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !e.static && pred(k) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear drops everything, static entries included.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[Key]cacheEntry)
	c.mu.Unlock()
}

// Snapshot copies every entry.
func (c *Cache) Snapshot() map[Key]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Key]Value, len(c.entries))
	for k, e := range c.entries {
		out[k] = e.value
	}
	return out
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}
