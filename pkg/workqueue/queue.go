// Package workqueue implements the Priority Queue (component D) and Worker
// Pool (component E): five aged FIFO bands with a dedup set feeding a pool
// of workers that drain batches and invoke the external compiler capability.
//
// arena-cache has no direct analogue (arena-cache has no work queue); the
// band storage and aging rule are new code, using the same
// functional-options/config-file split arena-cache uses everywhere else
// (see config.go).
//
// © 2025 fabric authors. MIT License.
package workqueue

import (
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/kestrelcore/fabric/pkg/capability"
)

// NumBands is the number of priority bands (Critical..Background).
const NumBands = 5

// AgeUnit is the aging quantum: a request in band p ages into band p-1
// once it has waited longer than AgeUnit*(p+1).
const AgeUnit = 500 * time.Millisecond

// Priority indexes a band; lower is more urgent.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

// RejitRequest is a pending translation/compile request living inside the
// queue until a worker dequeues it.
type RejitRequest struct {
	Address      uint64
	Mode         capability.ExecMode
	Priority     Priority
	EnqueuedTick int64 // monotonic milliseconds
}

// bandItem is the btree payload: ordered by (tick, seq) so PopMax always
// returns the most recently enqueued item in the band (LIFO pop order,
// tuned for locality -- hot code arrives in bursts, newest is most
// relevant).
type bandItem struct {
	tick int64
	seq  uint64
	req  RejitRequest
}

func bandLess(a, b bandItem) bool {
	if a.tick != b.tick {
		return a.tick < b.tick
	}
	return a.seq < b.seq
}

// Clock returns a monotonic millisecond tick. Injectable so tests can
// exercise the aging rule and tick-wraparound without sleeping.
type Clock func() int64

func defaultClock() int64 { return time.Now().UnixMilli() }

// RequestQueue is the five-band aged priority queue (component D).
type RequestQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	bands  [NumBands]*btree.BTreeG[bandItem]
	dedup  map[uint64]struct{}
	count  int
	seq    uint64
	closed bool
	now    Clock
}

// QueueOption configures a RequestQueue at construction time.
type QueueOption func(*RequestQueue)

// WithClock overrides the monotonic tick source (default: wall-clock ms).
func WithClock(c Clock) QueueOption {
	return func(q *RequestQueue) {
		if c != nil {
			q.now = c
		}
	}
}

// NewRequestQueue constructs an empty RequestQueue.
func NewRequestQueue(opts ...QueueOption) *RequestQueue {
	q := &RequestQueue{
		dedup: make(map[uint64]struct{}),
		now:   defaultClock,
	}
	for i := range q.bands {
		q.bands[i] = btree.NewBTreeG(bandLess)
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds addr to band priority if it is not already in flight.
// Returns false if addr was already enqueued or the queue is closed.
func (q *RequestQueue) Enqueue(addr uint64, mode capability.ExecMode, priority Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, dup := q.dedup[addr]; dup {
		return false
	}

	now := q.now()
	q.seq++
	q.bands[priority].Set(bandItem{
		tick: now,
		seq:  q.seq,
		req: RejitRequest{
			Address:      addr,
			Mode:         mode,
			Priority:     priority,
			EnqueuedTick: now,
		},
	})
	q.dedup[addr] = struct{}{}
	q.count++
	q.cond.Signal()
	return true
}

// TryDequeue runs promote_aged then pops the back (most recent) item of the
// lowest-index non-empty band. If block is true and the queue is empty (and
// not closed), it waits on the condition variable; this is the queue's only
// unbounded wait -- every other operation here is non-blocking.
func (q *RequestQueue) TryDequeue(block bool) (RejitRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		q.promoteAgedLocked()
		if req, ok := q.popOneLocked(); ok {
			return req, true
		}
		if !block || q.closed {
			return RejitRequest{}, false
		}
		q.cond.Wait()
	}
}

// TryDequeueBatch drains up to max requests without blocking, preferring
// higher-priority bands first.
func (q *RequestQueue) TryDequeueBatch(max int) []RejitRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteAgedLocked()
	out := make([]RejitRequest, 0, max)
	for p := 0; p < NumBands && len(out) < max; p++ {
		for len(out) < max {
			item, ok := q.bands[p].PopMax()
			if !ok {
				break
			}
			delete(q.dedup, item.req.Address)
			q.count--
			out = append(out, item.req)
		}
	}
	return out
}

func (q *RequestQueue) popOneLocked() (RejitRequest, bool) {
	for p := 0; p < NumBands; p++ {
		if item, ok := q.bands[p].PopMax(); ok {
			delete(q.dedup, item.req.Address)
			q.count--
			return item.req, true
		}
	}
	return RejitRequest{}, false
}

// promoteAgedLocked implements the aging rule: any request in band p that
// has waited longer than AgeUnit*(p+1) is moved to band p-1 with a fresh
// tick. Must be called with q.mu held.
func (q *RequestQueue) promoteAgedLocked() {
	now := q.now()
	unitMs := int64(AgeUnit / time.Millisecond)
	for p := 1; p < NumBands; p++ {
		limit := now - unitMs*int64(p+1)

		var aged []bandItem
		q.bands[p].Ascend(bandItem{}, func(item bandItem) bool {
			if item.tick >= limit {
				return false // ascending by tick: nothing older remains
			}
			aged = append(aged, item)
			return true
		})

		for _, item := range aged {
			q.bands[p].Delete(item)
			q.seq++
			item.tick = now
			item.seq = q.seq
			item.req.EnqueuedTick = now
			item.req.Priority = Priority(p - 1)
			q.bands[p-1].Set(item)
		}
	}
}

// Boost removes addr from bands 1..4 (if present) and re-enqueues it as
// Critical. Returns true if addr was found and boosted.
func (q *RequestQueue) Boost(addr uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := 1; p < NumBands; p++ {
		var found bandItem
		hit := false
		q.bands[p].Ascend(bandItem{}, func(item bandItem) bool {
			if item.req.Address == addr {
				found = item
				hit = true
				return false
			}
			return true
		})
		if !hit {
			continue
		}
		q.bands[p].Delete(found)
		now := q.now()
		q.seq++
		found.tick = now
		found.seq = q.seq
		found.req.EnqueuedTick = now
		found.req.Priority = PriorityCritical
		q.bands[PriorityCritical].Set(found)
		q.cond.Signal()
		return true
	}
	return false
}

// Clear empties every band and the dedup set.
func (q *RequestQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.bands {
		q.bands[i] = btree.NewBTreeG(bandLess)
	}
	q.dedup = make(map[uint64]struct{})
	q.count = 0
}

// Close marks the queue disposing and wakes every blocked TryDequeue.
func (q *RequestQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Count returns the total number of in-flight requests across all bands.
func (q *RequestQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// DedupLen returns the size of the in-flight address set, expected to equal
// Count() at all times.
func (q *RequestQueue) DedupLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dedup)
}

// BandLen returns the number of requests currently in band p, for
// inspection tooling.
func (q *RequestQueue) BandLen(p Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bands[p].Len()
}
