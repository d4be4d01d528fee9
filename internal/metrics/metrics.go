// Package metrics exposes Prometheus counters for fetches, parses, merges and
// backfill outcomes.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "navfeed"

var (
	// SourceRequests counts HTTP attempts by endpoint and outcome
	// (ok, not_found, error).
	SourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "requests_total",
		Help:      "Upstream HTTP attempts by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	// SourceLatency observes upstream request latency.
	SourceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "request_duration_seconds",
		Help:      "Upstream request latency in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
	}, []string{"endpoint"})

	// RecordsParsed counts observations produced by each parser format.
	RecordsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "parse",
		Name:      "records_total",
		Help:      "Parsed observations by payload format",
	}, []string{"format"})

	// RecordsSkipped counts rows dropped by the parsers.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "parse",
		Name:      "skipped_total",
		Help:      "Rows dropped while parsing by payload format",
	}, []string{"format"})

	// MergeResults counts per-instrument merge outcomes (updated, unchanged,
	// failed).
	MergeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "instruments_total",
		Help:      "Per-instrument merge outcomes",
	}, []string{"outcome"})

	// BackfillTasks counts backfill tasks by mode and outcome (updated,
	// no_data, failed, skipped).
	BackfillTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "tasks_total",
		Help:      "Backfill tasks by mode and outcome",
	}, []string{"mode", "outcome"})

	// LastSuccessfulRun records the unix time of the last run without
	// failures.
	LastSuccessfulRun = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last run that finished without failures",
	}, []string{"mode"})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
}
