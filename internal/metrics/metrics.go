package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_fetch_requests_total",
			Help: "Total number of outbound page and image fetches",
		},
		[]string{"host", "status", "blocked", "block_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scour_fetch_duration_seconds",
			Help:    "Duration of outbound fetches in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_fetch_bytes_total",
			Help: "Total bytes downloaded across all fetches",
		},
		[]string{"host"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)

	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_queries_total",
			Help: "Search queries by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ResultsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_results_extracted_total",
			Help: "Results extracted from search pages",
		},
		[]string{"kind"},
	)

	ItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_items_skipped_total",
			Help: "Result page elements skipped during extraction",
		},
		[]string{"kind", "reason"},
	)

	ImagesMaterialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_images_materialized_total",
			Help: "Image materialization attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordFetch updates the fetch metrics for one HTTP exchange. A zero status
// means the request failed before a response arrived.
func RecordFetch(host string, status int, blockSrc string, duration time.Duration, bytes int) {
	statusStr := strconv.Itoa(status)
	if status == 0 {
		statusStr = "error"
	}
	blocked := "false"
	if blockSrc != "" {
		blocked = "true"
	}

	FetchRequestsTotal.WithLabelValues(host, statusStr, blocked, blockSrc).Inc()
	FetchDuration.WithLabelValues(host).Observe(duration.Seconds())
	FetchBytesTotal.WithLabelValues(host).Add(float64(bytes))
}

// RecordQuery counts one finished query. outcome is "ok" or an error kind.
func RecordQuery(kind, outcome string, results int) {
	QueriesTotal.WithLabelValues(kind, outcome).Inc()
	if results > 0 {
		ResultsExtracted.WithLabelValues(kind).Add(float64(results))
	}
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "port", port, "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
