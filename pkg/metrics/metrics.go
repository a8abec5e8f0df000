// Package metrics exposes the Prometheus registry used by the mirror.
// All metrics are defined in their respective packages (feed, pagination,
// retry, checkpoint, ingest, runstate) to keep them next to the code they
// measure.
//
// This package serves them over HTTP and documents every metric.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the mirror.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// NewMux returns a mux serving /metrics and /health.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

// NewServer returns an HTTP server for NewMux on addr.
func NewServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Metrics Documentation
//
// Feed Metrics (pkg/feed):
//   - whatsnews_feed_requests_total{kind, status} (Counter): Upstream requests by kind (count, page) and status
//   - whatsnews_feed_request_duration_seconds{kind} (Histogram): Upstream request duration
//   - whatsnews_feed_items_decoded_total (Counter): Items decoded from pages
//
// Planner Metrics (pkg/pagination):
//   - whatsnews_pages_planned_total (Counter): Page descriptors produced
//
// Retry Metrics (pkg/retry):
//   - whatsnews_upsert_retries_total{error_class} (Counter): Retries after write contention
//   - whatsnews_upsert_backoff_seconds{error_class} (Histogram): Backoff before each retry
//   - whatsnews_upsert_retry_exhausted_total{error_class} (Counter): Items that used up the retry budget
//
// Checkpoint Metrics (pkg/checkpoint):
//   - whatsnews_checkpoint_hits_total (Counter): Writes skipped
//   - whatsnews_checkpoint_misses_total (Counter): Writes required
//   - whatsnews_checkpoint_errors_total{operation} (Counter): Redis failures
//
// Ingestion Metrics (pkg/ingest):
//   - whatsnews_items_upserted_total (Counter): Committed item transactions
//   - whatsnews_items_skipped_total (Counter): Item writes skipped by checkpoint
//   - whatsnews_item_failures_total{reason} (Counter): Failed upserts (fatal, exhausted, cancelled)
//   - whatsnews_upsert_duration_seconds (Histogram): Upsert duration including retries
//   - whatsnews_pages_fetched_total (Counter): Pages fetched
//   - whatsnews_items_in_flight (Gauge): Upserts holding a connection slot
//   - whatsnews_run_duration_seconds{mode, outcome} (Histogram): Run duration
//
// Run Metrics (pkg/runstate):
//   - whatsnews_runs_total{status} (Counter): Finished runs by status
//   - whatsnews_last_run_success_timestamp_seconds (Gauge): Unix time of the last success
//   - whatsnews_runs_skipped_total (Counter): Scheduled runs skipped
//
// Example Prometheus Queries:
//
//   # Contention rate
//   rate(whatsnews_upsert_retries_total[5m])
//
//   # Hours since last successful run
//   (time() - whatsnews_last_run_success_timestamp_seconds) / 3600
//
//   # Checkpoint hit rate
//   sum(rate(whatsnews_checkpoint_hits_total[1h])) /
//   (sum(rate(whatsnews_checkpoint_hits_total[1h])) + sum(rate(whatsnews_checkpoint_misses_total[1h])))
//
//   # P95 upsert latency
//   histogram_quantile(0.95, rate(whatsnews_upsert_duration_seconds_bucket[5m]))
