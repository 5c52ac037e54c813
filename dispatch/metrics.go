package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawler",
		Name:      "tasks_submitted_total",
		Help:      "Task invocations published to a queue",
	}, []string{"queue"})
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawler",
		Name:      "tasks_processed_total",
		Help:      "Task invocations finished successfully",
	}, []string{"queue", "task"})
	tasksRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawler",
		Name:      "tasks_retried_total",
		Help:      "Task invocations scheduled for another delivery",
	}, []string{"queue", "task"})
	tasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawler",
		Name:      "tasks_failed_total",
		Help:      "Task invocations that failed with no retries left",
	}, []string{"queue", "task"})
	tasksInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trawler",
		Name:      "tasks_inflight",
		Help:      "Task invocations currently executing",
	}, []string{"queue"})
)
