package translate

// config.go defines the internal configuration object and the functional
// options accepted by New[T], following arena-cache's pkg/config.go shape:
// a private config struct only reachable through typed Option values, with
// every field defaulted so New works with zero options.
//
// © 2025 fabric authors. MIT License.

import (
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Cache[T] at construction time.
type Option[T any] func(*config[T])

type config[T any] struct {
	hotCacheCap int
	logger      *zap.Logger
	registry    *prometheus.Registry
}

func defaultConfig[T any]() *config[T] {
	return &config[T]{
		hotCacheCap: 4096, // spec default, see hot_cache_cap
		logger:      zap.NewNop(),
	}
}

// WithHotCacheCap overrides the hot-cache entry bound (default 4096).
func WithHotCacheCap[T any](cap int) Option[T] {
	return func(c *config[T]) {
		if cap > 0 {
			c.hotCacheCap = cap
		}
	}
}

// WithLogger plugs an external zap.Logger. The cache never logs on the
// try_get hot path; only slow events (remove, clear) are emitted.
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(c *config[T]) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (the default).
func WithMetrics[T any](reg *prometheus.Registry) Option[T] {
	return func(c *config[T]) {
		c.registry = reg
	}
}

func applyOptions[T any](cfg *config[T], opts []Option[T]) {
	for _, opt := range opts {
		opt(cfg)
	}
}
