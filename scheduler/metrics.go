package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	targetsScheduled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trawler",
		Name:      "scheduler_targets_scheduled",
		Help:      "Targets handed to the crawler queue so far",
	}, []string{"crawl"})
	backpressure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trawler",
		Name:      "scheduler_backpressure",
		Help:      "Scheduled targets the workers have not finished yet",
	}, []string{"crawl"})
)
