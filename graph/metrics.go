package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics instruments a Scheduler's dispatch loop: concurrency,
// per-vertex latency, and the three outcomes specific to this engine's
// guard-driven dispatch — skip propagation, tool invocations, and OnError
// recoveries. All metrics are namespaced "workflowcore_".
type PrometheusMetrics struct {
	inflightVertices prometheus.Gauge
	stepLatency      *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
	vertexSkipped    *prometheus.CounterVec
	onErrorRecovered *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers every metric against registry (a nil
// registry falls back to prometheus.DefaultRegisterer).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightVertices = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "workflowcore",
		Name:      "inflight_vertices",
		Help:      "Vertices currently executing across the scheduler's shared worker pool",
	})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workflowcore",
		Name:      "step_latency_ms",
		Help:      "Vertex execution duration in milliseconds, from dispatch to completion",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
	}, []string{"run_id", "vertex_id", "status"})

	pm.toolCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflowcore",
		Name:      "tool_calls_total",
		Help:      "Tool invocations made by LLM vertices, by tool name and outcome",
	}, []string{"run_id", "vertex_id", "tool_name", "outcome"})

	pm.vertexSkipped = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflowcore",
		Name:      "vertex_skipped_total",
		Help:      "Vertices skipped because no inbound edge guard was satisfied",
	}, []string{"run_id"})

	pm.onErrorRecovered = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflowcore",
		Name:      "onerror_recoveries_total",
		Help:      "OnError edges that fired after a vertex failure",
	}, []string{"run_id", "from_vertex_id"})

	return pm
}

// RecordStepLatency records one vertex's execution duration, labeled by
// outcome ("completed", "failed").
func (pm *PrometheusMetrics) RecordStepLatency(runID, vertexID string, latency time.Duration, status string) {
	if !pm.enabled {
		return
	}
	pm.stepLatency.WithLabelValues(runID, vertexID, status).Observe(float64(latency.Milliseconds()))
}

// UpdateInflightVertices sets the current count of concurrently executing
// vertices.
func (pm *PrometheusMetrics) UpdateInflightVertices(count int) {
	if !pm.enabled {
		return
	}
	pm.inflightVertices.Set(float64(count))
}

// IncrementToolCalls records one LLM vertex's tool invocation.
func (pm *PrometheusMetrics) IncrementToolCalls(runID, vertexID, toolName, outcome string) {
	if !pm.enabled {
		return
	}
	pm.toolCalls.WithLabelValues(runID, vertexID, toolName, outcome).Inc()
}

// IncrementVertexSkipped records one vertex cascading to Skipped.
func (pm *PrometheusMetrics) IncrementVertexSkipped(runID string) {
	if !pm.enabled {
		return
	}
	pm.vertexSkipped.WithLabelValues(runID).Inc()
}

// IncrementOnErrorRecovered records one OnError edge firing after fromVertexID
// failed.
func (pm *PrometheusMetrics) IncrementOnErrorRecovered(runID, fromVertexID string) {
	if !pm.enabled {
		return
	}
	pm.onErrorRecovered.WithLabelValues(runID, fromVertexID).Inc()
}

// Disable suspends metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes gauge values. Counters and histograms are cumulative by
// Prometheus design and are not reset.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightVertices.Set(0)
}
