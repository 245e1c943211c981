package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wherespace",
			Subsystem: "store",
			Name:      "searches_total",
			Help:      "Total number of similarity searches executed",
		},
	)

	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wherespace",
			Subsystem: "store",
			Name:      "search_duration_seconds",
			Help:      "Duration of similarity searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	replaceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wherespace",
			Subsystem: "store",
			Name:      "replace_duration_seconds",
			Help:      "Duration of per-document chunk replacement transactions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
