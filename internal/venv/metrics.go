package venv

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for failure kinds.
const (
	kindUnavailable = "unavailable"
	kindTimeout     = "timeout"
	kindWorker      = "worker_error"
	kindTransport   = "transport_error"
)

var (
	execDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loom_worker_exec_seconds",
			Help:    "Wall-clock duration of worker process invocations, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"action"},
	)

	execFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_worker_exec_failures_total",
			Help: "Total worker invocations that failed, by action and failure kind.",
		},
		[]string{"action", "kind"},
	)
)

func init() {
	prometheus.MustRegister(execDuration)
	prometheus.MustRegister(execFailures)

	for action := range knownActions {
		for _, kind := range []string{kindUnavailable, kindTimeout, kindWorker, kindTransport} {
			execFailures.WithLabelValues(action, kind)
		}
	}
}
