// Package epoch implements deferred reclamation for the Translation Cache
// (pkg/translate), adapted from arena-cache's internal/genring generation
// ring. genring's job was "advance frees the oldest arena"; this package's
// job is "advance frees only what no pinned reader can still see" -- the
// generation counter and ring shape survive, the TTL/arena-allocation
// machinery does not (cached artifacts are plain Go values, not
// arena-backed, see internal/objpool for why).
//
// Concurrency model
// ------------------
// Pin, Unpin, Defer and Advance all take one short-held mutex, and the
// registered free funcs run only for epochs with no outstanding pin --
// mirroring genring's documented
// contract that higher layers ("the parent shard") serialize mutation
// while this package stays lock-light internally.
//
// © 2025 fabric authors. MIT License.
package epoch

import "sync"

// Guard tracks one generation's outstanding reader pins plus the pending
// reclamation callback for that generation (e.g. "drop this artifact's
// strong reference").
type Guard struct {
	mu      sync.Mutex
	current uint64
	pins    map[uint64]int64 // epoch -> outstanding pin count
	pending map[uint64][]func()
}

// New constructs a Guard starting at epoch 1 (0 is reserved as "no epoch").
func New() *Guard {
	return &Guard{
		current: 1,
		pins:    map[uint64]int64{1: 0},
		pending: map[uint64][]func(){},
	}
}

// Pin records that the calling reader is about to dereference a value
// obtained under the current epoch, and returns that epoch so the reader
// can Unpin the same one later. Guest-execution threads call this before
// running a TranslatedArtifact obtained from the cache, since the artifact
// is shared between the Cache and every thread currently executing it.
func (g *Guard) Pin() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.current
	g.pins[e]++
	return e
}

// Unpin releases a pin acquired via Pin for the given epoch.
func (g *Guard) Unpin(e uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pins[e]--
	g.drainLocked()
}

// Defer registers fn to run once epoch e (the epoch returned by the most
// recent call to Pin made by the writer performing the removal, i.e. the
// epoch in effect at the moment of removal) has no outstanding pins. If
// there are no outstanding pins on e right now, fn runs immediately.
func (g *Guard) Defer(e uint64, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pins[e] == 0 {
		g.mu.Unlock()
		fn()
		g.mu.Lock()
		return
	}
	g.pending[e] = append(g.pending[e], fn)
}

// Advance moves the current epoch forward by one. Call this periodically
// (e.g. on Translation Cache rotation) so readers pinned to stale epochs
// eventually drain and their deferred frees run. Returns the list of epochs
// that were fully reclaimed by this call.
func (g *Guard) Advance() []uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.current + 1
	g.pins[next] = 0
	g.current = next
	return g.drainLocked()
}

// drainLocked runs and clears pending callbacks for every tracked epoch
// with zero outstanding pins. The current epoch stays tracked (new pins
// still land on it) and is not reported as reclaimed. Must be called with
// g.mu held.
func (g *Guard) drainLocked() []uint64 {
	var reclaimed []uint64
	for e, n := range g.pins {
		if n > 0 {
			continue
		}
		for _, fn := range g.pending[e] {
			fn()
		}
		delete(g.pending, e)
		if e == g.current {
			continue
		}
		delete(g.pins, e)
		reclaimed = append(reclaimed, e)
	}
	return reclaimed
}

// Current returns the epoch currently in effect for new pins.
func (g *Guard) Current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}
