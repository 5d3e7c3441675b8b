// Package metrics exposes Prometheus instrumentation for the orchestration
// engine: pool size, queue depth, dispatch latency, task outcomes, and the
// number of live WebSocket subscribers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "pool",
		Name:      "instances",
		Help:      "Current number of live worker instances.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of tasks waiting in each priority bucket.",
	}, []string{"priority"})

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Subsystem: "dispatch",
		Name:      "latency_seconds",
		Help:      "Time from a task becoming ready to being dispatched to a worker.",
		Buckets:   prometheus.DefBuckets,
	})

	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "task",
		Name:      "outcomes_total",
		Help:      "Total tasks reaching a terminal state, labeled by outcome.",
	}, []string{"outcome"})

	WSSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "websocket",
		Name:      "subscribers",
		Help:      "Current number of connected WebSocket event subscribers.",
	})
)

// SetPoolSize records the current instance count.
func SetPoolSize(n float64) {
	PoolSize.Set(n)
}

// SetQueueDepth records the current depth of a single priority bucket.
func SetQueueDepth(priority string, n float64) {
	QueueDepth.WithLabelValues(priority).Set(n)
}

// ObserveDispatchLatency records a ready-to-dispatched duration in seconds.
func ObserveDispatchLatency(seconds float64) {
	DispatchLatency.Observe(seconds)
}

// IncTaskOutcome increments the counter for a terminal task outcome
// ("completed", "failed", "cancelled").
func IncTaskOutcome(outcome string) {
	TaskOutcomes.WithLabelValues(outcome).Inc()
}

// SetWSSubscribers records the current WebSocket subscriber count.
func SetWSSubscribers(n float64) {
	WSSubscribers.Set(n)
}
