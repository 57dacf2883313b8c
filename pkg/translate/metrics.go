package translate

// metrics.go is a thin abstraction over Prometheus, mirroring arena-cache's
// pkg/metrics.go: a metricsSink interface with a no-op default, used so the
// hot try_get path never pays for a metric update unless the caller opts in
// via WithMetrics.
//
// ┌───────────────────────────────────────────┬──────┐
// │ Metric                                    │ Type │
// ├───────────────────────────────────────────┼──────┤
// │ fabric_translate_hotcache_hits_total      │ Ctr  │
// │ fabric_translate_hotcache_lookups_total   │ Ctr  │
// │ fabric_translate_slowpath_hits_total      │ Ctr  │
// │ fabric_translate_misses_total             │ Ctr  │
// │ fabric_translate_entries                  │ Gge  │
// └───────────────────────────────────────────┴──────┘
//
// © 2025 fabric authors. MIT License.

import "github.com/prometheus/client_golang/prometheus"

type metricsSink interface {
	incHotCacheLookup()
	incHotCacheHit()
	incSlowPathHit()
	incMiss()
	setCount(n int)
}

type noopMetrics struct{}

func (noopMetrics) incHotCacheLookup() {}
func (noopMetrics) incHotCacheHit()    {}
func (noopMetrics) incSlowPathHit()    {}
func (noopMetrics) incMiss()           {}
func (noopMetrics) setCount(int)       {}

type promMetrics struct {
	hotLookups prometheus.Counter
	hotHits    prometheus.Counter
	slowHits   prometheus.Counter
	misses     prometheus.Counter
	count      prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		hotLookups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabric",
			Subsystem: "translate",
			Name:      "hotcache_lookups_total",
			Help:      "Number of hot-cache lookups performed by try_get.",
		}),
		hotHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabric",
			Subsystem: "translate",
			Name:      "hotcache_hits_total",
			Help:      "Number of hot-cache hits.",
		}),
		slowHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabric",
			Subsystem: "translate",
			Name:      "slowpath_hits_total",
			Help:      "Number of interval-map hits on hot-cache miss.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabric",
			Subsystem: "translate",
			Name:      "misses_total",
			Help:      "Number of try_get calls that found no artifact.",
		}),
		count: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabric",
			Subsystem: "translate",
			Name:      "entries",
			Help:      "Live entries in the interval map.",
		}),
	}
	reg.MustRegister(pm.hotLookups, pm.hotHits, pm.slowHits, pm.misses, pm.count)
	return pm
}

func (m *promMetrics) incHotCacheLookup() { m.hotLookups.Inc() }
func (m *promMetrics) incHotCacheHit()    { m.hotHits.Inc() }
func (m *promMetrics) incSlowPathHit()    { m.slowHits.Inc() }
func (m *promMetrics) incMiss()           { m.misses.Inc() }
func (m *promMetrics) setCount(n int)     { m.count.Set(float64(n)) }
