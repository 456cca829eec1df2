// Package metrics provides Prometheus collectors for the planning service.
// Collectors are registered on an injected registry rather than the global
// default so tests and embedders control their own metric namespace.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// AgentCalls counts agent invocations by workflow step and outcome.
	AgentCalls *prometheus.CounterVec

	// AgentDuration observes agent invocation wall-clock time per step.
	AgentDuration *prometheus.HistogramVec

	// AgentTokens counts total tokens consumed per step.
	AgentTokens *prometheus.CounterVec

	// StreamsOpen tracks currently open SSE connections.
	StreamsOpen prometheus.Gauge

	// StreamEvents counts emitted SSE events by event name.
	StreamEvents *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil registry
// produces working but unregistered collectors, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AgentCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planner",
			Name:      "agent_calls_total",
			Help:      "Agent invocations by workflow step and outcome.",
		}, []string{"step", "status"}),
		AgentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "planner",
			Name:      "agent_duration_seconds",
			Help:      "Agent invocation duration.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"step"}),
		AgentTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planner",
			Name:      "agent_tokens_total",
			Help:      "Total LLM tokens consumed per workflow step.",
		}, []string{"step"}),
		StreamsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "planner",
			Name:      "sse_streams_open",
			Help:      "Currently open SSE connections.",
		}),
		StreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planner",
			Name:      "sse_events_total",
			Help:      "Emitted SSE events by event name.",
		}, []string{"event"}),
	}
}

// ObserveAgentCall records one agent invocation.
func (m *Metrics) ObserveAgentCall(step string, d time.Duration, tokens int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AgentCalls.WithLabelValues(step, status).Inc()
	m.AgentDuration.WithLabelValues(step).Observe(d.Seconds())
	if tokens > 0 {
		m.AgentTokens.WithLabelValues(step).Add(float64(tokens))
	}
}
