package speculative

// config.go follows the same functional-options split as pkg/translate and
// pkg/workqueue (itself grounded on arena-cache's pkg/config.go).
//
// © 2025 fabric authors. MIT License.

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kestrelcore/fabric/pkg/capability"
)

// AdmissionGate is the deferral gate consulted before the Tracer actually
// invokes the compiler capability for a speculative address -- one of
// several opportunistic producers the Work Scheduler wraps. Declared here
// rather than imported from pkg/scheduler so this package has no
// compile-time dependency on it; pkg/scheduler.Scheduler satisfies this
// interface structurally.
type AdmissionGate interface {
	Schedule(priority int, work func())
}

type immediateGate struct{}

func (immediateGate) Schedule(_ int, work func()) { work() }

// Option configures a Tracer at construction time.
type Option[T any] func(*tracerConfig[T])

type tracerConfig[T any] struct {
	compiler   capability.Compiler[T]
	gate       AdmissionGate
	limiter    *rate.Limiter
	pollPeriod time.Duration
	logger     *zap.Logger
}

func defaultTracerConfig[T any]() *tracerConfig[T] {
	return &tracerConfig[T]{
		gate:       immediateGate{},
		pollPeriod: 100 * time.Millisecond, // worker-loop wakeup when the queue is idle
		logger:     zap.NewNop(),
	}
}

// WithCompiler supplies the external compiler capability. Required.
func WithCompiler[T any](c capability.Compiler[T]) Option[T] {
	return func(cfg *tracerConfig[T]) { cfg.compiler = c }
}

// WithAdmissionGate routes every speculative compile through gate instead of
// running it inline. Pass a *pkg/scheduler.Scheduler (it satisfies
// AdmissionGate structurally).
func WithAdmissionGate[T any](gate AdmissionGate) Option[T] {
	return func(cfg *tracerConfig[T]) {
		if gate != nil {
			cfg.gate = gate
		}
	}
}

// WithRateLimit throttles speculative compiles so the low-priority tracer
// thread never saturates the compiler capability at the expense of demand
// (foreground) requests.
func WithRateLimit[T any](r rate.Limit, burst int) Option[T] {
	return func(cfg *tracerConfig[T]) {
		cfg.limiter = rate.NewLimiter(r, burst)
	}
}

// WithLogger plugs an external zap.Logger for compile failures.
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(cfg *tracerConfig[T]) {
		if l != nil {
			cfg.logger = l
		}
	}
}

func applyOptions[T any](cfg *tracerConfig[T], opts []Option[T]) {
	for _, opt := range opts {
		opt(cfg)
	}
}
