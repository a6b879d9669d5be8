// Package telemetry exposes the router's prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for tool call metrics.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeUnknownTool = "unknown_tool"
)

// Metrics holds the router's prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing, so callers never have to
// guard their instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	queries      prometheus.Counter
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
}

// New creates and registers the router's metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_queries_total",
			Help: "Number of orchestrated queries processed.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_tool_calls_total",
			Help: "Number of dispatched downstream tool calls by outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_tool_call_duration_seconds",
			Help:    "Latency of downstream tool calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}

	m.registry.MustRegister(m.queries, m.toolCalls, m.toolDuration)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQuery counts one orchestrated query.
func (m *Metrics) ObserveQuery() {
	if m == nil {
		return
	}

	m.queries.Inc()
}

// ObserveToolCall records one dispatched tool call.
func (m *Metrics) ObserveToolCall(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}

	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(seconds)
}
