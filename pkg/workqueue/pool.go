package workqueue

// pool.go implements the Worker Pool (component E): W goroutines drain the
// RequestQueue and submit each request into a go-microbatch Batcher, which
// groups concurrently-submitted requests into batches and bounds how many
// batches run at once (the batcher's MaxConcurrency plays the role of "W
// worker threads" at the compile-dispatch layer; the goroutines below play
// the role of "W worker threads" at the dequeue layer, so the two W's line
// up by construction).
//
// Grounded on joeycumines-go-utilpkg/microbatch/microbatch.go for the
// Batcher/BatchProcessor/Submit/JobResult.Wait shape, and on arena-cache's
// pkg/cache.go for the "swallow producer errors behind a counter" failure
// policy: a per-request compile error is logged and counted, never
// propagated to anything that would stall the pool.
//
// © 2025 fabric authors. MIT License.

import (
	"context"
	"math"
	"runtime"
	"sync/atomic"

	microbatch "github.com/joeycumines/go-microbatch"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelcore/fabric/internal/objpool"
)

// compileJob is the unit submitted to the microbatch.Batcher. Its fields
// beyond Req are written by the BatchProcessor and read back by the
// submitting goroutine after JobResult.Wait returns -- per microbatch's own
// contract, the Job's identity is never replaced, only mutated in place.
type compileJob[T any] struct {
	req    RejitRequest
	result T
	err    error
}

// clampWorkers computes the default dequeue-goroutine count from the host's
// visible CPU count: W = clamp(ceil((cores-2)/2*1.5), 2, max(8, cores-2)).
func clampWorkers(cores int) int {
	raw := math.Ceil(float64(cores-2) / 2 * 1.5)
	lo, hi := 2, cores-2
	if hi < 8 {
		hi = 8
	}
	w := int(raw)
	if w < lo {
		w = lo
	}
	if w > hi {
		w = hi
	}
	return w
}

// WorkerPool drains a RequestQueue, invoking the compiler capability for
// each request and registering successful artifacts with the Translation
// Cache.
type WorkerPool[T any] struct {
	queue   *RequestQueue
	cfg     *poolConfig[T]
	batcher *microbatch.Batcher[*compileJob[T]]
	jobPool *objpool.Pool[compileJob[T]]

	failures atomic.Uint64
	produced atomic.Uint64

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs a WorkerPool bound to queue. WithCompiler must be supplied;
// New panics otherwise, matching arena-cache's "panic on missing required
// dependency" style in go-microbatch's own NewBatcher. Compiler.Register is
// responsible for installing successful artifacts into the Translation
// Cache idempotently, so WorkerPool itself never touches pkg/translate
// directly.
func New[T any](queue *RequestQueue, opts ...Option[T]) *WorkerPool[T] {
	cfg := defaultPoolConfig[T]()
	applyOptions(cfg, opts)
	if cfg.compiler == nil {
		panic("workqueue: WithCompiler is required")
	}

	p := &WorkerPool[T]{
		queue: queue,
		cfg:   cfg,
		jobPool: objpool.New(
			func() *compileJob[T] { return &compileJob[T]{} },
			func(j *compileJob[T]) { var zero T; j.req = RejitRequest{}; j.result = zero; j.err = nil },
			64,
		),
	}

	p.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        cfg.batchSize,
		FlushInterval:  cfg.flushInterval,
		MaxConcurrency: cfg.workers,
	}, p.processBatch)

	return p
}

// DefaultWorkerCount returns clampWorkers applied to the host's visible CPU
// count.
func DefaultWorkerCount() int {
	return clampWorkers(runtime.NumCPU())
}

// Start launches cfg.workers (or the clamped default) dequeue goroutines.
// Start must be called at most once.
func (p *WorkerPool[T]) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	p.group = g

	workers := p.cfg.workers
	if workers <= 0 {
		workers = DefaultWorkerCount()
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			p.runWorker(gctx)
			return nil
		})
	}
}

// runWorker is one worker thread's loop: block for the first request (the
// queue's only unbounded wait, via its condition variable), then opportunistically
// drain the rest of the pending bands in one batch dequeue so a burst of
// concurrently-enqueued requests is submitted to the batcher together
// instead of one Submit round-trip per request.
func (p *WorkerPool[T]) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		first, ok := p.queue.TryDequeue(true)
		if !ok {
			return // queue closed and drained
		}

		batch := []RejitRequest{first}
		if p.cfg.batchSize > 1 {
			batch = append(batch, p.queue.TryDequeueBatch(p.cfg.batchSize-1)...)
		}

		for _, req := range batch {
			job := p.jobPool.Get()
			job.req = req

			jr, err := p.batcher.Submit(ctx, job)
			if err != nil {
				p.failures.Add(1)
				p.jobPool.Put(job)
				continue
			}
			if err := jr.Wait(ctx); err != nil {
				p.failures.Add(1)
				p.jobPool.Put(job)
				continue
			}

			if job.err != nil {
				p.failures.Add(1)
				p.cfg.logger.Sugar().Warnw("compile failed", "addr", job.req.Address, "err", job.err)
			} else {
				p.produced.Add(1)
				p.cfg.notifier.NotifyProduced(job.req.Address, job.result)
			}
			p.jobPool.Put(job)
		}
	}
}

// processBatch is the microbatch.BatchProcessor: it compiles every job in
// the batch and writes results/errors back onto each job in place. A
// per-job compile failure never fails the batch as a whole -- the worker
// loop above handles failures per-request, swallowing and counting them
// rather than letting one bad address take down the batch.
func (p *WorkerPool[T]) processBatch(ctx context.Context, jobs []*compileJob[T]) error {
	for _, job := range jobs {
		result, err := p.cfg.compiler.Compile(ctx, job.req.Address, job.req.Mode)
		if err != nil {
			job.err = err
			continue
		}
		p.cfg.compiler.Register(job.req.Address, result)
		job.result = result
	}
	return nil
}

// Stop cancels all worker goroutines and waits for them to return, then
// closes the batcher. Stop closes the underlying queue itself so that
// workers blocked in TryDequeue wake up.
func (p *WorkerPool[T]) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.queue.Close()
	var err error
	if p.group != nil {
		err = p.group.Wait()
	}
	p.batcher.Close()
	return err
}

// Failures returns the count of requests dropped due to compile errors.
func (p *WorkerPool[T]) Failures() uint64 { return p.failures.Load() }

// Produced returns the count of requests that compiled successfully.
func (p *WorkerPool[T]) Produced() uint64 { return p.produced.Load() }
