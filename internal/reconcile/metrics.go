package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var documentsDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "catalog_indexer_documents_deleted_total",
	Help: "Index documents removed because their product no longer exists.",
})
