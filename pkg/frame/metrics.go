package frame

// metrics.go follows the noopMetrics/promMetrics sink split used in
// pkg/translate/metrics.go.
//
// © 2025 fabric authors. MIT License.

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

func floatBits(f float64) uint64 { return math.Float64bits(f) }
func bitsFloat(b uint64) float64 { return math.Float64frombits(b) }

type metricsSink interface {
	setState(s State)
	setSyncScale(scale float64)
}

type noopMetrics struct{}

func (noopMetrics) setState(State)       {}
func (noopMetrics) setSyncScale(float64) {}

type promMetrics struct {
	state     prometheus.Gauge
	syncScale prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	m := &promMetrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabric",
			Subsystem: "frame",
			Name:      "state",
			Help:      "current Frame Controller state (0=idle,1=transition,2=grace,3=extended_grace)",
		}),
		syncScale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabric",
			Subsystem: "frame",
			Name:      "sync_timeout_scale",
			Help:      "current sync wait-timeout scale factor",
		}),
	}
	reg.MustRegister(m.state, m.syncScale)
	return m
}

func (m *promMetrics) setState(s State)       { m.state.Set(float64(s)) }
func (m *promMetrics) setSyncScale(v float64) { m.syncScale.Set(v) }
