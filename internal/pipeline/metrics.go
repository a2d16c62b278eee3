package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_indexer_runs_total",
		Help: "Indexing runs by outcome.",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_indexer_run_duration_seconds",
		Help:    "Wall time of indexing runs.",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
	})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_indexer_active_runs",
		Help: "Runs currently holding a catalog lock.",
	})

	linesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_indexer_lines_processed_total",
		Help: "Export lines read by the assembler, excluding lines skipped on resume.",
	})
)
