// Package translate implements the Translation Cache (component C): the
// public address -> artifact surface used by the executor, composing the
// interval map (internal/intervalmap) with the hot cache (internal/hotcache)
// behind a single writer-preferred lock.
//
// Grounded on arena-cache's pkg/cache.go shard: same "RLock fast path,
// upgrade to Lock only on miss/mutation" shape, same metrics/config file
// split, same "hot structure consulted without holding the main lock"
// discipline -- but the sharded CLOCK-Pro arena cache becomes a composition
// of two purpose-built structures instead of one self-contained shard.
//
// © 2025 fabric authors. MIT License.
package translate

import (
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kestrelcore/fabric/internal/epoch"
	"github.com/kestrelcore/fabric/internal/hotcache"
	"github.com/kestrelcore/fabric/internal/intervalmap"
)

// Releasable is implemented by artifact types that hold resources beyond
// what Go's GC reclaims on its own (e.g. a handle into compiler- or
// renderer-owned memory). Remove and Clear defer the call to Release until
// no guest thread that pinned the cache before the removal is still pinned,
// via PinEpoch/UnpinEpoch.
type Releasable interface {
	Release()
}

// Resolver resolves a start-key collision during AddOrUpdate.
type Resolver[T any] = intervalmap.Resolver[T]

var (
	ErrEmptyRange = intervalmap.ErrEmptyRange
	ErrOverlap    = intervalmap.ErrOverlap
)

// Cache is the public Translation Cache surface used by the executor.
type Cache[T any] struct {
	mu  sync.RWMutex
	im  *intervalmap.Map[T]
	hot *hotcache.Cache[T]
	ep  *epoch.Guard
	sf  singleflight.Group

	cfg *config[T]
	met metricsSink
}

// New constructs a Cache. With no options, the hot-cache capacity defaults
// to 4096 entries.
func New[T any](opts ...Option[T]) *Cache[T] {
	cfg := defaultConfig[T]()
	applyOptions(cfg, opts)

	met := metricsSink(noopMetrics{})
	if cfg.registry != nil {
		met = newPromMetrics(cfg.registry)
	}

	return &Cache[T]{
		im:  &intervalmap.Map[T]{},
		hot: hotcache.New[T](cfg.hotCacheCap),
		ep:  epoch.New(),
		cfg: cfg,
		met: met,
	}
}

// TryGet checks the hot cache lock-free; on hit it returns immediately. On
// miss it takes the read side of the lock, stabs the interval map, and on
// hit opportunistically promotes the result into the hot cache before
// releasing the lock.
func (c *Cache[T]) TryGet(addr uint64) (T, bool) {
	c.met.incHotCacheLookup()
	if v, ok := c.hot.TryGet(addr); ok {
		c.met.incHotCacheHit()
		return v, true
	}

	c.mu.RLock()
	v, ok := c.im.TryGet(addr)
	if ok {
		c.hot.InsertIfAbsent(addr, v)
	}
	c.mu.RUnlock()

	if !ok {
		c.met.incMiss()
		var zero T
		return zero, false
	}

	c.met.incSlowPathHit()
	return v, true
}

// GetOrCompile is the demand-path helper used when TryGet misses: it
// dedups concurrent callers racing to produce the same address via
// singleflight, runs compile synchronously for the single winner, and
// installs the result with GetOrAdd (sized via sizeOf) so a second
// concurrent producer of the same range never clobbers the first. Any
// compile error propagates straight back to the caller that asked for this
// address, unlike the opportunistic producers in pkg/workqueue and
// pkg/speculative, which only count failures.
func (c *Cache[T]) GetOrCompile(addr uint64, compile func() (T, error), sizeOf func(T) uint64) (T, error) {
	iface, err, _ := c.sf.Do(singleflightKey(addr), func() (any, error) {
		if v, ok := c.TryGet(addr); ok {
			return v, nil
		}
		v, err := compile()
		if err != nil {
			var zero T
			return zero, err
		}
		installed, installErr := c.GetOrAdd(addr, sizeOf(v), v)
		if installErr != nil {
			return v, nil
		}
		return installed, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return iface.(T), nil
}

func singleflightKey(addr uint64) string {
	// Addresses are already unique per range start; this only runs on the
	// demand (miss) path, never inside the hot TryGet loop.
	return strconv.FormatUint(addr, 16)
}

// TryAdd inserts [addr, addr+size) -> value only if no equal-start interval
// exists. Returns true iff it created a new entry.
func (c *Cache[T]) TryAdd(addr, size uint64, value T) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	created, err := c.im.AddOrUpdate(addr, addr+size, value, nil)
	if err != nil {
		return false, err
	}
	return created, nil
}

// AddOrUpdate inserts or, on overlap, resolves via resolver. The hot-cache
// entry for addr is only updated if it was already present -- AddOrUpdate
// never promotes a cold address into the hot cache on its own.
func (c *Cache[T]) AddOrUpdate(addr, size uint64, value T, resolver Resolver[T]) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	created, err := c.im.AddOrUpdate(addr, addr+size, value, resolver)
	if err != nil {
		return false, err
	}
	if _, present := c.hot.TryGet(addr); present {
		if v, ok := c.im.TryGet(addr); ok {
			c.hot.Set(addr, v)
		}
	}
	return created, nil
}

// GetOrAdd inserts value for [addr, addr+size) if absent and returns the
// authoritative stored value either way, promoting it into the hot cache.
func (c *Cache[T]) GetOrAdd(addr, size uint64, value T) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.im.GetOrAdd(addr, addr+size, value)
	if err != nil {
		var zero T
		return zero, err
	}
	c.hot.Set(addr, v)
	return v, nil
}

// Remove deletes addr from both structures. Any value implementing
// Releasable has its Release deferred until every guest thread pinned at
// the moment of removal has called UnpinEpoch.
func (c *Cache[T]) Remove(addr uint64) bool {
	c.mu.Lock()
	v, found := c.hot.TryGet(addr)
	if !found {
		v, found = c.im.TryGet(addr)
	}
	c.hot.Remove(addr)
	n := c.im.Remove(addr)
	e := c.ep.Current()
	c.mu.Unlock()

	if n == 0 {
		return false
	}
	if found {
		if r, ok := any(v).(Releasable); ok {
			c.ep.Defer(e, r.Release)
		}
	}
	c.cfg.logger.Sugar().Debugw("translate cache entry removed", "addr", addr)
	return true
}

// Clear empties both structures and advances the reclamation epoch so any
// Releasable values removed this way are freed once outstanding readers
// drain.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	entries := c.im.AsList()
	c.im.Clear()
	c.hot.Clear()
	e := c.ep.Current()
	c.mu.Unlock()

	for _, v := range entries {
		if r, ok := any(v).(Releasable); ok {
			c.ep.Defer(e, r.Release)
		}
	}
	c.ep.Advance()
	c.cfg.logger.Sugar().Infow("translate cache cleared", "entries", len(entries))
}

// ContainsKey reports whether any interval in the authoritative map
// contains addr (a stabbing test, not a start-address match).
func (c *Cache[T]) ContainsKey(addr uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.im.ContainsKey(addr)
}

// Count returns the number of intervals in the authoritative map.
func (c *Cache[T]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.im.Count()
}

// AsList returns every stored artifact.
func (c *Cache[T]) AsList() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.im.AsList()
}

// GetOverlaps fills buf with the starts of every interval intersecting
// [start, end) and returns the count written.
func (c *Cache[T]) GetOverlaps(start, end uint64, buf []uint64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.im.GetOverlaps(start, end, buf)
}

// PinEpoch must be called by a guest execution thread before it begins
// executing an artifact obtained from TryGet, and UnpinEpoch once execution
// of that artifact completes. This lets Remove/Clear defer releasing
// resources an in-flight artifact still needs.
func (c *Cache[T]) PinEpoch() uint64   { return c.ep.Pin() }
func (c *Cache[T]) UnpinEpoch(e uint64) { c.ep.Unpin(e) }
