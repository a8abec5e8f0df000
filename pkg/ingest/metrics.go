package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whatsnews_items_upserted_total",
		Help: "Total number of committed item transactions",
	})

	itemsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whatsnews_items_skipped_total",
		Help: "Total number of item writes skipped by checkpoint",
	})

	itemFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsnews_item_failures_total",
		Help: "Total number of failed item upserts by reason",
	}, []string{"reason"}) // "fatal", "exhausted", "cancelled"

	upsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "whatsnews_upsert_duration_seconds",
		Help:    "Item upsert duration including retries",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
	})

	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whatsnews_pages_fetched_total",
		Help: "Total number of pages fetched by the orchestrator",
	})

	itemsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whatsnews_items_in_flight",
		Help: "Number of item upserts currently holding a connection slot",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whatsnews_run_duration_seconds",
		Help:    "Ingestion run duration by mode and outcome",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"mode", "outcome"})
)
