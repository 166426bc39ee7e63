// Package metrics exposes the Prometheus metrics named in spec §3's domain
// stack: pool size, dispatch latency, tool iteration counts. Grounded on the
// teacher's internal/observability.Metrics (promauto-registered vecs served
// via promhttp.Handler), scoped down to what NEXUS3's components emit.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every NEXUS3 Prometheus collector.
type Metrics struct {
	PoolSize        *prometheus.GaugeVec
	DispatchLatency *prometheus.HistogramVec
	DispatchTotal   *prometheus.CounterVec
	ToolIterations  prometheus.Histogram
	ToolCallLatency *prometheus.HistogramVec
	ToolCallTotal   *prometheus.CounterVec
}

// New registers and returns a fresh Metrics. Call once per process; a
// second call on the default registry would panic on duplicate
// registration, so tests that need isolation should pass a dedicated
// *prometheus.Registry via NewWithRegisterer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers every collector against reg instead of the
// global default registry, letting tests construct an isolated Metrics
// without colliding with other tests in the same process.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PoolSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexus3_pool_agents",
			Help: "Current number of live agents in the pool, by kind (named|temp).",
		}, []string{"kind"}),

		DispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus3_dispatch_duration_seconds",
			Help:    "JSON-RPC dispatch latency by method.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method"}),

		DispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus3_dispatch_requests_total",
			Help: "JSON-RPC requests dispatched, by method and outcome (ok|error).",
		}, []string{"method", "outcome"}),

		ToolIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus3_session_tool_iterations",
			Help:    "Tool-loop iterations consumed per Session.Send call.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),

		ToolCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus3_tool_call_duration_seconds",
			Help:    "Tool call latency by tool name.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		}, []string{"tool"}),

		ToolCallTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus3_tool_calls_total",
			Help: "Tool calls executed, by tool name and outcome (ok|error).",
		}, []string{"tool", "outcome"}),
	}
}

// ObserveDispatch records one JSON-RPC dispatch's latency and outcome.
func (m *Metrics) ObserveDispatch(method string, start time.Time, errored bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if errored {
		outcome = "error"
	}
	m.DispatchLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	m.DispatchTotal.WithLabelValues(method, outcome).Inc()
}

// SetPoolSize updates the live-agent gauges from a pool snapshot count.
func (m *Metrics) SetPoolSize(named, temp int) {
	if m == nil {
		return
	}
	m.PoolSize.WithLabelValues("named").Set(float64(named))
	m.PoolSize.WithLabelValues("temp").Set(float64(temp))
}

// ObserveToolIterations records how many loop iterations one Send call used.
func (m *Metrics) ObserveToolIterations(n int) {
	if m == nil {
		return
	}
	m.ToolIterations.Observe(float64(n))
}

// ObserveToolCall records one tool call's latency and outcome. Satisfies
// agent.ToolCallObserver.
func (m *Metrics) ObserveToolCall(tool string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.ToolCallLatency.WithLabelValues(tool).Observe(d.Seconds())
	m.ToolCallTotal.WithLabelValues(tool, outcome).Inc()
}
