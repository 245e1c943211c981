package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wherespace",
			Subsystem: "ingest",
			Name:      "documents_ingested_total",
			Help:      "Total number of documents successfully ingested",
		},
	)

	documentsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wherespace",
			Subsystem: "ingest",
			Name:      "documents_failed_total",
			Help:      "Total number of documents that failed ingestion",
		},
	)
)
