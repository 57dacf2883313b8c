package scheduler

// config.go follows the functional-options split used across every other
// package in this module.
//
// © 2025 fabric authors. MIT License.

import (
	"time"

	"go.uber.org/zap"
)

// FrameGate is the subset of pkg/frame.Controller the scheduler consults.
// Declared locally so this package carries no compile-time dependency on
// pkg/frame; *frame.Controller satisfies it structurally.
type FrameGate interface {
	IsHeavyLoad() bool
	MaxWorkItemsThisFrame() int
}

// Option configures a Scheduler at construction time.
type Option func(*config)

type config struct {
	gate        FrameGate
	drainBudget time.Duration
	idleSleep   time.Duration
	logger      *zap.Logger
}

func defaultConfig() *config {
	return &config{
		drainBudget: 8 * time.Millisecond, // per-frame drain wall-clock cap
		idleSleep:   1 * time.Millisecond, // background low-priority yield
		logger:      zap.NewNop(),
	}
}

// WithFrameGate supplies the Frame Controller consulted for admission
// decisions. Required; Scheduler treats a nil gate as always-idle/low-load.
func WithFrameGate(g FrameGate) Option {
	return func(cfg *config) { cfg.gate = g }
}

// WithDrainBudget overrides the 8ms per-frame drain wall-clock cap.
func WithDrainBudget(d time.Duration) Option {
	return func(cfg *config) { cfg.drainBudget = d }
}

// WithIdleSleep overrides the 1ms background-drain yield interval.
func WithIdleSleep(d time.Duration) Option {
	return func(cfg *config) { cfg.idleSleep = d }
}

// WithLogger plugs an external zap.Logger.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

func applyOptions(cfg *config, opts []Option) {
	for _, opt := range opts {
		opt(cfg)
	}
}
