package assembler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var malformedLines = promauto.NewCounter(prometheus.CounterOpts{
	Name: "catalog_indexer_malformed_lines_total",
	Help: "Export lines skipped because they could not be decoded.",
})
