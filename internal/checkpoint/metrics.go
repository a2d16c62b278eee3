package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	saves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_indexer_checkpoint_saves_total",
		Help: "Checkpoint records persisted.",
	})

	saveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_indexer_checkpoint_save_errors_total",
		Help: "Checkpoint saves that failed.",
	})

	saveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_indexer_checkpoint_save_duration_seconds",
		Help:    "Duration of checkpoint writes.",
		Buckets: prometheus.DefBuckets,
	})
)
