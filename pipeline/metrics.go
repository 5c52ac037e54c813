package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawler",
		Name:      "documents_processed_total",
		Help:      "Records stored through the data storage pipeline",
	}, []string{"document_type"})
	documentsNew = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawler",
		Name:      "documents_new_total",
		Help:      "Records stored for the first time",
	}, []string{"document_type"})
	targetsDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trawler",
		Name:      "targets_discovered_total",
		Help:      "Targets inserted by the discovery pipeline",
	})
)
