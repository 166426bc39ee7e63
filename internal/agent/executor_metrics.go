package agent

import (
	"sync"
	"time"
)

// ExecutorMetricsSnapshot is a point-in-time view of one Session's tool
// execution counters, returned by the RPC dispatcher's get_metrics method.
type ExecutorMetricsSnapshot struct {
	TotalCalls    int64              `json:"total_calls"`
	TotalFailures int64              `json:"total_failures"`
	ToolLatency   map[string]float64 `json:"tool_latency_ms"`
}

// executorMetrics accumulates per-tool call counts and mean latency for
// ExecutorMetricsSnapshot. It's independent of any Prometheus registration:
// a Session always tracks it, whether or not an external Metrics is wired.
type executorMetrics struct {
	mu            sync.Mutex
	totalCalls    int64
	totalFailures int64
	latencySum    map[string]time.Duration
	latencyCount  map[string]int64
}

func newExecutorMetrics() *executorMetrics {
	return &executorMetrics{
		latencySum:   make(map[string]time.Duration),
		latencyCount: make(map[string]int64),
	}
}

func (e *executorMetrics) record(tool string, d time.Duration, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalCalls++
	if failed {
		e.totalFailures++
	}
	e.latencySum[tool] += d
	e.latencyCount[tool]++
}

func (e *executorMetrics) snapshot() ExecutorMetricsSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	latency := make(map[string]float64, len(e.latencySum))
	for tool, sum := range e.latencySum {
		mean := sum / time.Duration(e.latencyCount[tool])
		latency[tool] = float64(mean) / float64(time.Millisecond)
	}
	return ExecutorMetricsSnapshot{
		TotalCalls:    e.totalCalls,
		TotalFailures: e.totalFailures,
		ToolLatency:   latency,
	}
}
