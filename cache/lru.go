// Package cache provides a thread-safe, capacity-bounded LRU memoizer used
// by the geometry stores to keep hot slides in memory, plus an introspection
// registry over all cache-bearing components of an object.
package cache

import (
	"container/list"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/seisgo/resource"
)

// EnvDisable is the environment variable that, when set to a non-empty
// value, forces every LRU in the process to bypass caching. Useful for
// reproducibility testing.
const EnvDisable = "SEISGO_DISABLE_CACHE"

var globalDisable atomic.Bool

func init() { refreshDisableFromEnv() }

// refreshDisableFromEnv re-reads EnvDisable into the process-wide switch.
func refreshDisableFromEnv() {
	globalDisable.Store(os.Getenv(EnvDisable) != "")
}

// Disable turns off caching process-wide, regardless of call-site settings.
func Disable() { globalDisable.Store(true) }

// Enable re-enables caching process-wide.
func Enable() { globalDisable.Store(false) }

// Disabled reports the process-wide disable switch.
func Disabled() bool { return globalDisable.Load() }

// Stats is a snapshot of one cache's counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
	Bytes   int64
}

// Options configures an LRU.
type Options[V any] struct {
	// Capacity is the maximum number of entries. Zero or negative
	// disables storage entirely (every call is a miss).
	Capacity int

	// SizeOf reports the approximate byte footprint of a value.
	// Optional; without it Bytes() stays zero.
	SizeOf func(V) int64

	// Clone produces an independent copy of a value. Required for
	// CopyOnReturn; optional otherwise.
	Clone func(V) V

	// CopyOnReturn makes every hit and populated miss return a defensive
	// copy instead of the cached value. Default false: the contract is
	// that returned values are not mutated by callers.
	CopyOnReturn bool

	// Controller optionally bounds the total memory held by caches.
	// A value denied by the controller is returned but not stored.
	Controller *resource.Controller
}

// LRU is a per-instance, capacity-bounded memoization store with
// least-recently-used eviction and hit/miss statistics.
//
// A single mutex guards the map and counters but not the loader: two
// goroutines racing on the same missing key both execute the load and both
// insert; the last insert wins. There is no per-key single-flight
// suppression, and callers that need at-most-once computation per key must
// layer it externally.
type LRU[V any] struct {
	mu        sync.Mutex
	opts      Options[V]
	items     map[Key]*list.Element
	evictList *list.List
	bytes     int64

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[V any] struct {
	key   Key
	value V
	size  int64
}

// NewLRU creates an LRU with the given capacity.
func NewLRU[V any](capacity int, optFns ...func(o *Options[V])) *LRU[V] {
	opts := Options[V]{Capacity: capacity}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &LRU[V]{
		opts:      opts,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
	}
}

// LoadOptions carries call-time overrides for GetOrLoad.
type LoadOptions struct {
	// Bypass skips the cache entirely for this call: no lookup, no insert,
	// no counter updates.
	Bypass bool
}

// Bypass is a call-time override that disables caching for one call.
func Bypass(o *LoadOptions) { o.Bypass = true }

// GetOrLoad returns the cached value for key, or executes load and caches
// its result. Load errors are never cached.
func (c *LRU[V]) GetOrLoad(key Key, load func() (V, error), optFns ...func(o *LoadOptions)) (V, error) {
	var lo LoadOptions
	for _, fn := range optFns {
		fn(&lo)
	}
	if lo.Bypass || globalDisable.Load() {
		return load()
	}

	c.mu.Lock()
	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		v := ent.Value.(*entry[V]).value
		c.mu.Unlock()
		return c.ret(v), nil
	}
	c.mu.Unlock()

	// Deliberately computed outside the lock; see type comment for the
	// duplicate-miss semantics.
	v, err := load()
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	c.misses.Add(1)
	c.insertLocked(key, v)
	c.mu.Unlock()
	return c.ret(v), nil
}

// Get returns the cached value for key without loading.
func (c *LRU[V]) Get(key Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return c.ret(ent.Value.(*entry[V]).value), true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Put inserts or refreshes a value.
func (c *LRU[V]) Put(key Key, v V) {
	if globalDisable.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(key, v)
}

func (c *LRU[V]) insertLocked(key Key, v V) {
	size := int64(0)
	if c.opts.SizeOf != nil {
		size = c.opts.SizeOf(v)
	}

	if ent, ok := c.items[key]; ok {
		// Last write wins for racing misses on the same key. The
		// controller reservation follows the size change; when it cannot
		// grow, the entry is dropped rather than kept stale.
		e := ent.Value.(*entry[V])
		if rc := c.opts.Controller; rc != nil {
			if delta := size - e.size; delta > 0 && !rc.TryAcquireMemory(delta) {
				c.evictList.Remove(ent)
				delete(c.items, key)
				c.bytes -= e.size
				rc.ReleaseMemory(e.size)
				return
			} else if delta < 0 {
				rc.ReleaseMemory(-delta)
			}
		}
		c.bytes += size - e.size
		e.value, e.size = v, size
		c.evictList.MoveToFront(ent)
		return
	}

	if c.opts.Capacity <= 0 {
		return
	}
	for c.evictList.Len() >= c.opts.Capacity {
		c.removeOldestLocked()
	}

	if rc := c.opts.Controller; rc != nil && size > 0 {
		if !rc.TryAcquireMemory(size) {
			return
		}
	}

	el := c.evictList.PushFront(&entry[V]{key: key, value: v, size: size})
	c.items[key] = el
	c.bytes += size
}

func (c *LRU[V]) removeOldestLocked() {
	el := c.evictList.Back()
	if el == nil {
		return
	}
	c.evictList.Remove(el)
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.bytes -= e.size
	if rc := c.opts.Controller; rc != nil && e.size > 0 {
		rc.ReleaseMemory(e.size)
	}
}

func (c *LRU[V]) ret(v V) V {
	if c.opts.CopyOnReturn && c.opts.Clone != nil {
		return c.opts.Clone(v)
	}
	return v
}

// Reset drops all entries and zeroes the counters.
func (c *LRU[V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.evictList.Len() > 0 {
		c.removeOldestLocked()
	}
	c.hits.Store(0)
	c.misses.Store(0)
}

// Len returns the current number of entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Bytes returns the approximate footprint of cached values.
func (c *LRU[V]) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Stats returns a snapshot of the counters.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	entries := c.evictList.Len()
	bytes := c.bytes
	c.mu.Unlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
		Bytes:   bytes,
	}
}
