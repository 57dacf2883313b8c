package workqueue

// config.go mirrors arena-cache's pkg/config.go functional-option split,
// generalized from cache knobs to worker-pool knobs.
//
// © 2025 fabric authors. MIT License.

import (
	"time"

	"go.uber.org/zap"

	"github.com/kestrelcore/fabric/pkg/capability"
)

// ProducedNotifier receives {addr, artifact} after a successful compile, so
// the Speculative Tracer can queue likely successors. pkg/speculative
// implements this.
type ProducedNotifier[T any] interface {
	NotifyProduced(addr uint64, artifact T)
}

type noopNotifier[T any] struct{}

func (noopNotifier[T]) NotifyProduced(uint64, T) {}

// Option configures a WorkerPool at construction time.
type Option[T any] func(*poolConfig[T])

type poolConfig[T any] struct {
	workers       int
	batchSize     int
	flushInterval time.Duration
	compiler      capability.Compiler[T]
	notifier      ProducedNotifier[T]
	logger        *zap.Logger
}

func defaultPoolConfig[T any]() *poolConfig[T] {
	return &poolConfig[T]{
		// clamp formula applied to the host CPU count; WithWorkers overrides
		workers:       DefaultWorkerCount(),
		batchSize:     6, // typical range 4-8
		flushInterval: 75 * time.Millisecond,
		notifier:      noopNotifier[T]{},
		logger:        zap.NewNop(),
	}
}

// WithWorkers sets the worker count W directly, overriding the clamp
// formula New applies by default.
func WithWorkers[T any](w int) Option[T] {
	return func(c *poolConfig[T]) {
		if w > 0 {
			c.workers = w
		}
	}
}

// WithBatchSize overrides BATCH (default 6, typical range 4-8).
func WithBatchSize[T any](n int) Option[T] {
	return func(c *poolConfig[T]) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithFlushInterval overrides how long the batcher waits to fill a partial
// batch before dispatching it anyway.
func WithFlushInterval[T any](d time.Duration) Option[T] {
	return func(c *poolConfig[T]) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithCompiler supplies the external compiler capability. Required.
func WithCompiler[T any](compiler capability.Compiler[T]) Option[T] {
	return func(c *poolConfig[T]) {
		c.compiler = compiler
	}
}

// WithNotifier supplies the Speculative Tracer hook invoked after a
// successful compile.
func WithNotifier[T any](n ProducedNotifier[T]) Option[T] {
	return func(c *poolConfig[T]) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithLogger plugs an external zap.Logger for compile failures.
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(c *poolConfig[T]) {
		if l != nil {
			c.logger = l
		}
	}
}

func applyOptions[T any](cfg *poolConfig[T], opts []Option[T]) {
	for _, opt := range opts {
		opt(cfg)
	}
}
