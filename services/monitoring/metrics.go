// Package monitoring provides Prometheus instrumentation for the backtest
// service.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BacktestsTotal counts backtest runs, partitioned by outcome.
	BacktestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bce_backtests_total",
		Help: "Total number of backtest runs",
	}, []string{"status"})

	// BacktestDuration tracks backtest run duration per symbol count bucket.
	BacktestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bce_backtest_duration_seconds",
		Help:    "Backtest run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BarsProcessed counts total bars consumed by the fill simulator.
	BarsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bce_bars_processed_total",
		Help: "Total bars processed by backtest runs",
	})

	// RiskReportsTotal counts risk report builds, partitioned by outcome.
	RiskReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bce_risk_reports_total",
		Help: "Total number of risk report builds",
	}, []string{"status"})

	// RiskReportSymbols tracks the number of symbols per risk report.
	RiskReportSymbols = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bce_risk_report_symbols",
		Help:    "Symbols per risk report",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bce_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bce_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request metrics for every route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Use the route pattern for path label to avoid high cardinality.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
