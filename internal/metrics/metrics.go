// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "factory"

var (
	once sync.Once

	// LivenessPassesTotal counts evaluator passes by result (ok, error, skipped).
	LivenessPassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "liveness",
		Name:      "passes_total",
		Help:      "Total number of liveness evaluator passes, labeled by result.",
	}, []string{"result"})

	// LivenessPassDurationSeconds is the wall time of one evaluator pass.
	LivenessPassDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "liveness",
		Name:      "pass_duration_seconds",
		Help:      "Time taken by one liveness evaluator pass.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// MachinesOffline is the offline count seen by the last pass.
	MachinesOffline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "liveness",
		Name:      "machines_offline",
		Help:      "Machines classified offline by the most recent liveness pass.",
	})

	// InvalidTimestampsTotal counts machines skipped for an unparseable last_updated.
	InvalidTimestampsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "liveness",
		Name:      "invalid_timestamps_total",
		Help:      "Machines excluded from a liveness pass because last_updated could not be parsed.",
	})

	// LogsIngestedTotal counts accepted logs by source (api, mqtt).
	LogsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "logs_total",
		Help:      "Total number of logs persisted, labeled by source.",
	}, []string{"source"})

	// LogsRejectedTotal counts logs that failed validation by source and reason.
	LogsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "logs_rejected_total",
		Help:      "Total number of logs rejected, labeled by source and reason.",
	}, []string{"source", "reason"})

	// NotificationsTotal counts published events by sink and result.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "events_total",
		Help:      "Total number of machine events handed to a sink, labeled by sink and result.",
	}, []string{"sink", "result"})

	// ResponseCacheTotal counts cached-view lookups by result (hit, miss, flush).
	ResponseCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "response_cache_total",
		Help:      "Response cache lookups and flushes, labeled by result.",
	}, []string{"result"})

	// WebsocketClients is the number of connected websocket clients.
	WebsocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "websocket_clients",
		Help:      "Currently connected websocket clients.",
	})
)

// Register registers dashboard metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			LivenessPassesTotal,
			LivenessPassDurationSeconds,
			MachinesOffline,
			InvalidTimestampsTotal,
			LogsIngestedTotal,
			LogsRejectedTotal,
			NotificationsTotal,
			ResponseCacheTotal,
			WebsocketClients,
		)
	})
}
