package export

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_indexer_export_poll_attempts_total",
		Help: "Bulk operation status polls.",
	})

	downloadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_indexer_export_downloaded_bytes_total",
		Help: "Bytes of export files downloaded.",
	})
)
