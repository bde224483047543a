// Package telemetry registers the Prometheus metrics exposed at GET /metrics.
//
// HTTP metrics are labelled by chi route pattern (e.g. /api/v1/keys/{keyID})
// rather than the raw URL so user-supplied path segments cannot inflate label
// cardinality.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)
)

// Key lifecycle metrics.
//
// KeyValidationsTotal carries the outcome label from apikey.Reason, e.g.
// valid, not_found, daily_limit. A rising store_unavailable rate is the
// signal to alert on.
var (
	KeyValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_key_validations_total",
			Help: "Total number of API key validations, by outcome.",
		},
		[]string{"outcome"},
	)

	KeysIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanguard_keys_issued_total",
			Help: "Total number of API keys issued, by tier.",
		},
		[]string{"tier"},
	)

	KeysRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanguard_keys_revoked_total",
			Help: "Total number of API keys revoked.",
		},
	)
)

// ScansTotal counts scans by kind (file, url) and status (ok, error, timeout).
var ScansTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scanguard_scans_total",
		Help: "Total number of scans, by kind and status.",
	},
	[]string{"kind", "status"},
)

// DBPoolConnections tracks connections held by the pgx pool, sampled by
// StartPoolStatsCollector.
var DBPoolConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "scanguard_db_pool_connections",
		Help: "Current number of database pool connections, by state.",
	},
	[]string{"state"},
)

// StartPoolStatsCollector samples pool statistics every interval until ctx is done.
func StartPoolStatsCollector(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("pool stats collector stopped")
				return
			case <-ticker.C:
				RecordPoolStats(pool.Stat())
			}
		}
	}()
}

// RecordPoolStats copies one pool snapshot into DBPoolConnections.
func RecordPoolStats(stat *pgxpool.Stat) {
	DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	DBPoolConnections.WithLabelValues("acquired").Set(float64(stat.AcquiredConns()))
}
