// Package speculative implements the Speculative Tracer (component F): an
// observational branch/call-graph tracer that opportunistically queues
// likely-next translations ahead of demand.
//
// No direct arena-cache analogue exists (arena-cache has no tracer); the
// concurrent-map shape is grounded on arena-cache's sharded index
// (pkg/shard.go's "map + atomic counters, no single global lock") and on
// codeGROOVE-dev-multicache's use of github.com/puzpuzpuz/xsync/v4 for a
// similar exec-count/target map. internal/boundedset bounds branch_targets
// to a small fixed number of entries per source address.
//
// © 2025 fabric authors. MIT License.
package speculative

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/kestrelcore/fabric/internal/boundedset"
	"github.com/kestrelcore/fabric/internal/objpool"
	"github.com/kestrelcore/fabric/pkg/capability"
	"github.com/kestrelcore/fabric/pkg/translate"
)

// Tuning constants for the successor-lookahead heuristic.
const (
	SpecThreshold = 3   // exec count that arms speculative enqueue for an address
	MaxDepth      = 4   // successors are not chased past this recursion depth
	MaxTargets    = 8   // bound on branch_targets per source address
	QueueCap      = 256 // bound on the pending speculative-address queue

	// PriorityLow is passed to AdmissionGate.Schedule; matches the Low band
	// in pkg/scheduler's 0..2 priority scheme (pkg/workqueue's five bands
	// are a separate scheme in which 0 is Critical).
	PriorityLow = 0
)

type targetSet struct {
	mu  sync.Mutex
	set *boundedset.Set
}

type specTask struct {
	addr  uint64
	depth int
}

// Tracer observes execution, branch, and call events and opportunistically
// drives the compiler capability for addresses it predicts will run soon.
type Tracer[T any] struct {
	execCount     *xsync.Map[uint64, *atomic.Uint32]
	branchTargets *xsync.Map[uint64, *targetSet]
	inFlight      *xsync.Map[uint64, struct{}]

	queue    chan *specTask
	queueLen atomic.Int32
	taskPool *objpool.Pool[specTask]

	cache    *translate.Cache[T]
	cfg      *tracerConfig[T]

	hits  atomic.Uint64
	drops atomic.Uint64

	stop chan struct{}
	done chan struct{}
}

// New constructs a Tracer bound to cache. WithCompiler must be supplied.
func New[T any](cache *translate.Cache[T], opts ...Option[T]) *Tracer[T] {
	cfg := defaultTracerConfig[T]()
	applyOptions(cfg, opts)
	if cfg.compiler == nil {
		panic("speculative: WithCompiler is required")
	}

	return &Tracer[T]{
		execCount:     xsync.NewMap[uint64, *atomic.Uint32](),
		branchTargets: xsync.NewMap[uint64, *targetSet](),
		inFlight:      xsync.NewMap[uint64, struct{}](),
		queue:         make(chan *specTask, QueueCap),
		taskPool: objpool.New(
			func() *specTask { return &specTask{} },
			func(t *specTask) { t.addr, t.depth = 0, 0 },
			64,
		),
		cache: cache,
		cfg:   cfg,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the single low-priority worker goroutine.
func (t *Tracer[T]) Start(ctx context.Context) {
	go t.run(ctx)
}

// Stop signals the worker to exit and waits (bounded by ctx) for it to do
// so.
func (t *Tracer[T]) Stop(ctx context.Context) error {
	close(t.stop)
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnExecute implements capability.ExecutorHooks.
func (t *Tracer[T]) OnExecute(addr uint64) { t.RecordExecution(addr) }

// OnBranch implements capability.ExecutorHooks.
func (t *Tracer[T]) OnBranch(src, tgt uint64) { t.RecordBranch(src, tgt) }

// OnCall implements capability.ExecutorHooks.
func (t *Tracer[T]) OnCall(caller, callee uint64) { t.RecordCall(caller, callee) }

var _ capability.ExecutorHooks = (*Tracer[struct{}])(nil)

// RecordExecution increments addr's execution count. The first time the
// count crosses SpecThreshold, every known branch target of addr is
// enqueued at depth 0.
func (t *Tracer[T]) RecordExecution(addr uint64) {
	cnt, _ := t.execCount.LoadOrStore(addr, &atomic.Uint32{})
	if cnt.Add(1) == SpecThreshold {
		t.enqueueTargetsOf(addr, 0)
	}
}

// RecordBranch adds tgt to branch_targets[src] (bounded). If src has
// already crossed SpecThreshold, tgt is also enqueued immediately.
func (t *Tracer[T]) RecordBranch(src, tgt uint64) {
	ts, _ := t.branchTargets.LoadOrStore(src, &targetSet{set: boundedset.New(MaxTargets)})
	ts.mu.Lock()
	ts.set.Add(tgt)
	ts.mu.Unlock()

	if cnt, ok := t.execCount.Load(src); ok && cnt.Load() >= SpecThreshold {
		t.tryEnqueue(tgt, 0)
	}
}

// RecordCall enqueues callee at depth 0 unconditionally.
func (t *Tracer[T]) RecordCall(_, callee uint64) {
	t.tryEnqueue(callee, 0)
}

// NotifyProduced implements pkg/workqueue.ProducedNotifier: once the Worker
// Pool produces an artifact, queue its known successors.
func (t *Tracer[T]) NotifyProduced(addr uint64, _ T) {
	t.enqueueTargetsOf(addr, 0)
}

func (t *Tracer[T]) enqueueTargetsOf(addr uint64, depth int) {
	ts, ok := t.branchTargets.Load(addr)
	if !ok {
		return
	}
	ts.mu.Lock()
	targets := make([]uint64, 0, ts.set.Len())
	ts.set.Each(func(a uint64) { targets = append(targets, a) })
	ts.mu.Unlock()

	for _, tgt := range targets {
		t.tryEnqueue(tgt, depth)
	}
}

// tryEnqueue drops silently on depth overflow, queue overflow, a cache hit
// (still counted), or dedup rejection -- a speculative address is never
// worth blocking or retrying for.
func (t *Tracer[T]) tryEnqueue(addr uint64, depth int) {
	if depth >= MaxDepth {
		t.drops.Add(1)
		return
	}
	if int(t.queueLen.Load()) >= QueueCap {
		t.drops.Add(1)
		return
	}
	if _, ok := t.cache.TryGet(addr); ok {
		t.hits.Add(1)
		return
	}
	if _, loaded := t.inFlight.LoadOrStore(addr, struct{}{}); loaded {
		t.drops.Add(1)
		return
	}

	task := t.taskPool.Get()
	task.addr, task.depth = addr, depth
	select {
	case t.queue <- task:
		t.queueLen.Add(1)
	default:
		t.inFlight.Delete(addr)
		t.taskPool.Put(task)
		t.drops.Add(1)
	}
}

// run is the single low-priority worker: wake on notify or 100ms timeout.
func (t *Tracer[T]) run(ctx context.Context) {
	defer close(t.done)
	timer := time.NewTimer(t.cfg.pollPeriod)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case task := <-t.queue:
			t.queueLen.Add(-1)
			t.process(ctx, task)
		case <-timer.C:
			timer.Reset(t.cfg.pollPeriod)
		}
	}
}

func (t *Tracer[T]) process(ctx context.Context, task *specTask) {
	addr, depth := task.addr, task.depth
	t.inFlight.Delete(addr)
	t.taskPool.Put(task)

	if _, ok := t.cache.TryGet(addr); ok {
		t.hits.Add(1)
		return
	}

	t.cfg.gate.Schedule(PriorityLow, func() {
		if t.cfg.limiter != nil {
			if err := t.cfg.limiter.Wait(ctx); err != nil {
				return
			}
		}
		result, err := t.cfg.compiler.Compile(ctx, addr, capability.ExecModeJIT)
		if err != nil {
			t.cfg.logger.Sugar().Debugw("speculative compile failed", "addr", addr, "err", err)
			return
		}
		t.cfg.compiler.Register(addr, result)
		t.enqueueTargetsOf(addr, depth+1)
	})
}

// Hits returns the number of tryEnqueue calls short-circuited by an
// already-present cache entry.
func (t *Tracer[T]) Hits() uint64 { return t.hits.Load() }

// Drops returns the number of tryEnqueue calls rejected by depth, queue, or
// dedup limits.
func (t *Tracer[T]) Drops() uint64 { return t.drops.Load() }

// QueueLen returns the approximate number of pending speculative tasks.
func (t *Tracer[T]) QueueLen() int { return int(t.queueLen.Load()) }
