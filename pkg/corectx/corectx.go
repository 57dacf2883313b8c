// Package corectx wires the Translation Cache, Priority Queue, Worker
// Pool, Speculative Tracer, Frame Controller, and Work Scheduler into one
// owned graph, handing callers thin handles instead of letting the
// subsystems import each other directly (pkg/speculative would otherwise
// need pkg/workqueue's full package graph to satisfy its own
// AdmissionGate/ProducedNotifier dependencies, and vice versa).
//
// Grounded on arena-cache's pkg/cache.go top-level constructor, which owns
// its shard slice and shutdown channel the same way CoreContext owns every
// subsystem it constructs.
//
// © 2025 fabric authors. MIT License.
package corectx

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kestrelcore/fabric/pkg/capability"
	"github.com/kestrelcore/fabric/pkg/frame"
	"github.com/kestrelcore/fabric/pkg/scheduler"
	"github.com/kestrelcore/fabric/pkg/speculative"
	"github.com/kestrelcore/fabric/pkg/translate"
	"github.com/kestrelcore/fabric/pkg/workqueue"
)

// Sized lets an artifact report the address range it occupies. Artifacts
// that don't implement it are installed into the cache covering a single
// address (size 1) — enough for correctness, but callers that want stab
// queries over the artifact's true extent should implement Sized.
type Sized interface {
	Size() uint64
}

func sizeOf[T any](v T) uint64 {
	if s, ok := any(v).(Sized); ok {
		return s.Size()
	}
	return 1
}

// CompileFunc is the raw, cache-agnostic compile operation an external
// collaborator (the actual JIT/shader backend) supplies. CoreContext wraps
// it in an adapter that installs successful results into the Translation
// Cache, satisfying capability.Compiler[T]'s contract that Register is
// responsible for the cache put.
type CompileFunc[T any] func(ctx context.Context, addr uint64, mode capability.ExecMode) (T, error)

type cacheInstallingCompiler[T any] struct {
	cache   *translate.Cache[T]
	compile CompileFunc[T]
	logger  *zap.Logger
}

func (c *cacheInstallingCompiler[T]) Compile(ctx context.Context, addr uint64, mode capability.ExecMode) (T, error) {
	return c.compile(ctx, addr, mode)
}

func (c *cacheInstallingCompiler[T]) Register(addr uint64, artifact T) {
	if _, err := c.cache.GetOrAdd(addr, sizeOf(artifact), artifact); err != nil {
		c.logger.Sugar().Warnw("failed to install compiled artifact", "addr", addr, "err", err)
	}
}

// CoreContext owns one instance of every subsystem component and is the
// single entry point an embedding application constructs at startup.
type CoreContext[T any] struct {
	Cache     *translate.Cache[T]
	Queue     *workqueue.RequestQueue
	Pool      *workqueue.WorkerPool[T]
	Tracer    *speculative.Tracer[T]
	Frame     *frame.Controller
	Scheduler *scheduler.Scheduler

	compile CompileFunc[T]
	logger  *zap.Logger
}

var _ io.Closer = (*CoreContext[struct{}])(nil)

// Config collects the construction-time parameters CoreContext forwards
// to each owned subsystem.
type Config[T any] struct {
	Compile          CompileFunc[T]
	HotCacheCap      int
	Workers          int
	BatchSize        int
	FlushInterval    time.Duration
	SpeculativeRate  rate.Limit
	SpeculativeBurst int
	Logger           *zap.Logger

	// Registry, if non-nil, receives Prometheus gauges/counters from every
	// owned subsystem that exposes metrics (Translation Cache, Frame
	// Controller).
	Registry *prometheus.Registry
}

// New constructs every owned subsystem and wires them together:
//   - Scheduler is the Speculative Tracer's AdmissionGate.
//   - Worker Pool's ProducedNotifier is the Speculative Tracer, so every
//     freshly compiled artifact arms the tracer's successor lookahead.
//   - Both Worker Pool and Speculative Tracer compile through the same
//     cache-installing adapter around cfg.Compile.
func New[T any](cfg Config[T]) (*CoreContext[T], error) {
	if cfg.Compile == nil {
		return nil, fmt.Errorf("corectx: Config.Compile is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = workqueue.DefaultWorkerCount()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 6
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 75 * time.Millisecond
	}
	if cfg.SpeculativeRate <= 0 {
		cfg.SpeculativeRate = rate.Limit(50)
	}
	if cfg.SpeculativeBurst <= 0 {
		cfg.SpeculativeBurst = 10
	}

	translateOpts := []translate.Option[T]{translate.WithLogger[T](logger)}
	if cfg.HotCacheCap > 0 {
		translateOpts = append(translateOpts, translate.WithHotCacheCap[T](cfg.HotCacheCap))
	}
	if cfg.Registry != nil {
		translateOpts = append(translateOpts, translate.WithMetrics[T](cfg.Registry))
	}
	cache := translate.New[T](translateOpts...)

	compiler := &cacheInstallingCompiler[T]{cache: cache, compile: cfg.Compile, logger: logger}

	queue := workqueue.NewRequestQueue()

	frameOpts := []frame.Option{frame.WithLogger(logger)}
	if cfg.Registry != nil {
		frameOpts = append(frameOpts, frame.WithMetrics(cfg.Registry))
	}
	frameCtl := frame.New(frameOpts...)
	sched := scheduler.New(scheduler.WithFrameGate(frameCtl), scheduler.WithLogger(logger))

	tracer := speculative.New[T](
		cache,
		speculative.WithCompiler[T](compiler),
		speculative.WithAdmissionGate[T](sched),
		speculative.WithRateLimit[T](cfg.SpeculativeRate, cfg.SpeculativeBurst),
		speculative.WithLogger[T](logger),
	)

	pool := workqueue.New[T](
		queue,
		workqueue.WithCompiler[T](compiler),
		workqueue.WithNotifier[T](tracer),
		workqueue.WithWorkers[T](cfg.Workers),
		workqueue.WithBatchSize[T](cfg.BatchSize),
		workqueue.WithFlushInterval[T](cfg.FlushInterval),
		workqueue.WithLogger[T](logger),
	)

	return &CoreContext[T]{
		Cache:     cache,
		Queue:     queue,
		Pool:      pool,
		Tracer:    tracer,
		Frame:     frameCtl,
		Scheduler: sched,
		compile:   cfg.Compile,
		logger:    logger,
	}, nil
}

// Start launches every owned subsystem's background goroutines.
func (c *CoreContext[T]) Start(ctx context.Context) {
	c.Pool.Start(ctx)
	c.Tracer.Start(ctx)
	c.Scheduler.Start(ctx)
}

// Hooks returns the capability.ExecutorHooks implementation the embedding
// guest-execution engine should drive (OnExecute/OnBranch/OnCall).
func (c *CoreContext[T]) Hooks() capability.ExecutorHooks { return c.Tracer }

// RequestCompile is the demand path: guest execution asks the Translation
// Cache for addr, and on miss synchronously compiles and installs it rather
// than waiting on the background queue. A compile error propagates directly
// to the caller.
func (c *CoreContext[T]) RequestCompile(ctx context.Context, addr uint64, mode capability.ExecMode) (T, error) {
	if v, ok := c.Cache.TryGet(addr); ok {
		return v, nil
	}
	return c.Cache.GetOrCompile(addr, func() (T, error) {
		return c.compile(ctx, addr, mode)
	}, sizeOf[T])
}

// EnqueueSpeculative pushes a non-blocking, best-effort compile request onto
// the Priority Queue for the Worker Pool to drain later — the path
// opportunistic producers (the Speculative Tracer's successor lookahead, a
// texture prefetcher) should use instead of RequestCompile's synchronous
// demand path.
func (c *CoreContext[T]) EnqueueSpeculative(addr uint64, mode capability.ExecMode, priority workqueue.Priority) bool {
	return c.Queue.Enqueue(addr, mode, priority)
}

// EndFrame forwards to the Frame Controller and then drains the
// Scheduler's deferred bands — this is expected to be called exactly once
// per frame boundary, after the frame's own work is done.
func (c *CoreContext[T]) EndFrame(now time.Time) {
	c.Frame.EndFrame(now)
	c.Scheduler.ProcessDeferred()
}

// Close shuts every owned subsystem down in reverse dependency order:
// Scheduler's background drain first (so no new work is scheduled), then
// the Speculative Tracer (stop generating new compiles), then the Worker
// Pool (stop draining the queue), then the Priority Queue itself.
func (c *CoreContext[T]) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := c.Scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := c.Tracer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}
	if err := c.Pool.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	c.Queue.Close()

	if len(errs) > 0 {
		return fmt.Errorf("corectx: shutdown errors: %v", errs)
	}
	return nil
}

// Snapshot returns a JSON-friendly diagnostic dump of every owned
// subsystem's counters, in the shape cmd/fabric-inspect expects from a
// service's /debug/fabric/snapshot endpoint.
func (c *CoreContext[T]) Snapshot() map[string]any {
	return map[string]any{
		"cache_count": c.Cache.Count(),

		"queue_count": c.Queue.Count(),
		"queue_dedup": c.Queue.DedupLen(),
		"queue_bands": map[string]any{
			"critical":   c.Queue.BandLen(workqueue.PriorityCritical),
			"high":       c.Queue.BandLen(workqueue.PriorityHigh),
			"normal":     c.Queue.BandLen(workqueue.PriorityNormal),
			"low":        c.Queue.BandLen(workqueue.PriorityLow),
			"background": c.Queue.BandLen(workqueue.PriorityBackground),
		},

		"worker_produced": c.Pool.Produced(),
		"worker_failures": c.Pool.Failures(),

		"tracer_queue_len": c.Tracer.QueueLen(),
		"tracer_hits":      c.Tracer.Hits(),
		"tracer_drops":     c.Tracer.Drops(),

		"frame_state":              c.Frame.State().String(),
		"frame_sync_timeout_scale": c.Frame.SyncTimeoutScale(),
		"frame_max_work_items":     c.Frame.MaxWorkItemsThisFrame(),
	}
}
