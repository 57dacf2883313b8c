// Package objpool provides a thin, stable surface over sync.Pool for reusing
// short-lived scratch objects (compile jobs in pkg/workqueue, speculative
// tasks in pkg/speculative) on the hot paths of those packages.
//
// Adapted from arena-cache's internal/arena package, which wrapped the
// goexperiment.arenas standard-library package behind a minimal New/Free
// surface. That experimental package requires a non-default build tag and is
// not available on a stock toolchain, so this package keeps arena's stated
// goals -- "no pooling policy leaks upward, no stats, no GC hooks, parent
// already serializes access" is replaced by "the pool is inherently
// concurrent-safe and callers need no external lock" -- while swapping the
// allocator for sync.Pool plus a small, fixed-size overflow bag for bursts.
//
// Concurrency
// -----------
// Pool is safe for concurrent use from any number of goroutines; sync.Pool
// already provides per-P local caching, and the overflow bag is a buffered
// channel, used only on the rare paths where the per-P cache misses.
//
// © 2025 fabric authors. MIT License.
package objpool

import (
	"sync"

	"github.com/kestrelcore/fabric/internal/util"
)

// Pool recycles *T values of a fixed shape, avoiding per-request heap churn
// for hot-path producers (rejit requests, branch events).
type Pool[T any] struct {
	sp       sync.Pool
	reset    func(*T)
	overflow chan *T
}

// New constructs a Pool. newFn allocates a fresh *T when the pool is empty;
// reset clears a returned value before it is handed out again; overflowCap
// bounds the size of the secondary overflow bag used to absorb bursts that
// would otherwise thrash sync.Pool across GC cycles. overflowCap is rounded
// up to the next power of two so the bag's size lines up with the
// mask-indexed ring buffers used elsewhere in the fabric.
func New[T any](newFn func() *T, reset func(*T), overflowCap int) *Pool[T] {
	if overflowCap <= 0 {
		overflowCap = 64
	}
	if !util.IsPowerOfTwo(uintptr(overflowCap)) {
		overflowCap = int(util.AlignUp(uintptr(overflowCap), uintptr(nextPowerOfTwo(overflowCap))))
	}
	return &Pool[T]{
		sp:       sync.Pool{New: func() any { return newFn() }},
		reset:    reset,
		overflow: make(chan *T, overflowCap),
	}
}

// nextPowerOfTwo returns the smallest power of two >= n, used as the
// alignment for rounding an arbitrary overflow capacity up via
// util.AlignUp.
func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Get returns a ready-to-use *T, preferring the overflow bag (warmer, avoids
// a sync.Pool allocation under contention) and falling back to sync.Pool.
func (p *Pool[T]) Get() *T {
	select {
	case v := <-p.overflow:
		return v
	default:
	}
	return p.sp.Get().(*T)
}

// Put resets v and returns it to the pool. v must not be used again by the
// caller after this call.
func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	select {
	case p.overflow <- v:
		return
	default:
	}
	p.sp.Put(v)
}
