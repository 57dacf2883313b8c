// Package hotcache implements spec component B: a concurrent exact-address
// u64 -> T map bounded to CAP entries, used as a lock-free fast path in
// front of the authoritative interval map (pkg/translate).
//
// Eviction policy
// ---------------
// This is deliberately NOT an LRU cache. It is a probabilistic filter: a
// miss here always falls through to the interval map, so losing an entry
// costs a slow-path lookup, never correctness. When size reaches CAP, a
// single goroutine is elected via an atomic CAS (which optimistically drops
// the size counter by CAP/2) and removes roughly CAP/2 entries in whatever
// order Range happens to visit them. Under heavy concurrent insert pressure
// this can transiently shrink the live set below CAP/2 -- retained as
// intentional best-effort policy, not a bug.
//
// © 2025 fabric authors. MIT License.
package hotcache

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/kestrelcore/fabric/internal/util"
)

// DefaultCap is the default bound on live entries.
const DefaultCap = 4096

// Cache is the hot-path fast cache. The zero value is not usable; construct
// with New.
type Cache[T any] struct {
	cap   int64
	m     *xsync.Map[uint64, T]
	size  atomic.Int64
	lookups atomic.Uint64
	hits    atomic.Uint64
}

// New constructs a Cache bounded to cap entries.
func New[T any](cap int) *Cache[T] {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Cache[T]{
		cap: int64(cap),
		m:   xsync.NewMap[uint64, T](),
	}
}

// TryGet is the lock-free hot-path lookup.
func (c *Cache[T]) TryGet(addr uint64) (T, bool) {
	c.lookups.Add(1)
	v, ok := c.m.Load(addr)
	if ok {
		c.hits.Add(1)
	}
	return v, ok
}

// InsertIfAbsent inserts value for addr only if no entry already exists.
// Returns true if the insert happened. May trigger eviction if the cache is
// at or over capacity.
func (c *Cache[T]) InsertIfAbsent(addr uint64, value T) bool {
	_, loaded := c.m.LoadOrStore(addr, value)
	if loaded {
		return false
	}
	if c.size.Add(1) >= c.cap {
		c.maybeEvict()
	}
	return true
}

// Set unconditionally (over)writes addr -> value, used when promoting a
// confirmed authoritative value from the interval map. Does not double-count
// size if the key already existed.
func (c *Cache[T]) Set(addr uint64, value T) {
	_, existed := c.m.Load(addr)
	c.m.Store(addr, value)
	if !existed {
		if c.size.Add(1) >= c.cap {
			c.maybeEvict()
		}
	}
}

// Remove deletes addr if present.
func (c *Cache[T]) Remove(addr uint64) {
	if _, existed := c.m.LoadAndDelete(addr); existed {
		c.size.Add(-1)
	}
}

// Clear empties the cache.
func (c *Cache[T]) Clear() {
	c.m.Clear()
	c.size.Store(0)
}

// maybeEvict elects a single evictor via CAS on the size counter (dropping
// it by CAP/2 optimistically) and, if elected, removes approximately CAP/2
// arbitrary entries.
func (c *Cache[T]) maybeEvict() {
	half := c.cap / 2
	if half <= 0 {
		half = 1
	}
	var sp util.Spinner
	for {
		cur := c.size.Load()
		if cur < c.cap {
			return
		}
		if c.size.CompareAndSwap(cur, cur-half) {
			break
		}
		sp.Wait()
	}

	removed := int64(0)
	c.m.Range(func(k uint64, _ T) bool {
		if removed >= half {
			return false
		}
		if _, existed := c.m.LoadAndDelete(k); existed {
			removed++
		}
		return true
	})
}

// Stats returns the lookup/hit counters used for hit-ratio metrics
// (one hot-cache hit increments both hits and lookups by 1).
func (c *Cache[T]) Stats() (lookups, hits uint64) {
	return c.lookups.Load(), c.hits.Load()
}

// Len returns an approximate live-entry count.
func (c *Cache[T]) Len() int {
	n := c.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
