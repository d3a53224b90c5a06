// Package metrics provides Prometheus instrumentation for the repricer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChecksTotal counts per-subscription check cycles.
	ChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repricer_checks_total",
		Help: "Total number of subscription check cycles executed",
	})

	// AttemptsTotal counts recorded price-change attempts by terminal status.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_attempts_total",
		Help: "Total price-change attempts recorded, by status",
	}, []string{"status"})

	// GatewayRetries counts retried gateway calls.
	GatewayRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repricer_gateway_retries_total",
		Help: "Gateway price-update calls that were retried",
	})

	// ActiveSubscriptions tracks the number of monitored products.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "repricer_active_subscriptions",
		Help: "Number of products currently monitored",
	})

	// CheckDuration observes how long one subscription check takes,
	// including the gateway call when one happens.
	CheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repricer_check_duration_seconds",
		Help:    "Duration of one subscription check",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts API requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repricer_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts for the API server.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
	})
}

// ObserveCheck records one subscription check.
func ObserveCheck(start time.Time) {
	ChecksTotal.Inc()
	CheckDuration.Observe(time.Since(start).Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
