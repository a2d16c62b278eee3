package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_indexer_documents_indexed_total",
		Help: "Product documents written to the search index.",
	})

	documentsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_indexer_documents_failed_total",
		Help: "Product documents rejected after all retries.",
	})

	itemRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_indexer_document_retries_total",
		Help: "Individual document write retries.",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_indexer_batch_duration_seconds",
		Help:    "Duration of bulk writes, retries included.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)
