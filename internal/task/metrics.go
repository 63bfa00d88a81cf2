package task

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stackmesh/loom/internal/model"
)

var (
	tasksCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_tasks_created_total",
			Help: "Total number of tasks created in the registry.",
		},
	)

	tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status.",
		},
		[]string{"status"},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loom_task_duration_seconds",
			Help:    "Time from task start to terminal transition, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(tasksCreated)
	prometheus.MustRegister(tasksFinished)
	prometheus.MustRegister(taskDuration)

	// Pre-initialize label combinations so they report 0 from startup.
	for _, status := range []string{model.StatusCompleted, model.StatusFailed, model.StatusCancelled} {
		tasksFinished.WithLabelValues(status)
	}
}
