// Package metrics registers the orchestrator's Prometheus instrumentation:
// one counter/histogram pair per workflow node, one per tool, and a
// dedicated planner-fallback counter, mirroring the original service's
// metrics.py/domain_metrics.py module-level collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the orchestrator emits.
type Metrics struct {
	NodeInvocations *prometheus.CounterVec
	NodeLatency     *prometheus.HistogramVec

	ToolInvocations *prometheus.CounterVec
	ToolLatency     *prometheus.HistogramVec

	PlannerFallbackTotal prometheus.Counter
}

// New registers the orchestrator's collectors under namespace. Call once at
// service startup; registering twice against the default registry panics,
// matching promauto's own contract.
func New(namespace string) *Metrics {
	return &Metrics{
		NodeInvocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_invocations_total",
				Help:      "Total workflow node invocations, labeled by node and status.",
			},
			[]string{"node", "status"},
		),
		NodeLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_latency_seconds",
				Help:      "Workflow node execution latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		ToolInvocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_invocations_total",
				Help:      "Total tool adapter invocations, labeled by tool and status.",
			},
			[]string{"tool", "status"},
		),
		ToolLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_latency_seconds",
				Help:      "Tool adapter execution latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		PlannerFallbackTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "planner_fallback_total",
				Help:      "Total times the planner fell back to the fixed all-tools plan.",
			},
		),
	}
}

// ObserveNode records one node invocation's outcome and latency.
func (m *Metrics) ObserveNode(node, status string, start time.Time) {
	m.NodeInvocations.WithLabelValues(node, status).Inc()
	m.NodeLatency.WithLabelValues(node).Observe(time.Since(start).Seconds())
}

// ObserveTool records one tool invocation's outcome and latency.
func (m *Metrics) ObserveTool(tool, status string, start time.Time) {
	m.ToolInvocations.WithLabelValues(tool, status).Inc()
	m.ToolLatency.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}
