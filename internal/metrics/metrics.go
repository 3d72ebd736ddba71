// Package metrics provides Prometheus instrumentation for the marketplace
// ledger.
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
	// ListingsCreated counts listings created via List and update splits.
	ListingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_listings_created_total",
		Help: "Total number of listings created",
	})

	// Sales counts executed purchases.
	Sales = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_sales_total",
		Help: "Total number of executed purchases",
	})

	// SaleVolume tracks cumulative units sold per contract.
	SaleVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_sale_volume_total",
		Help: "Cumulative units sold",
	}, []string{"contract"})

	// Cancellations counts full or partial listing cancellations.
	Cancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_cancellations_total",
		Help: "Total number of listing cancellations",
	})

	// ListingUpdates counts listing updates, partitioned by outcome.
	ListingUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_listing_updates_total",
		Help: "Total number of listing updates",
	}, []string{"outcome"})

	// ActiveListings tracks the number of currently active listings.
	ActiveListings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_active_listings",
		Help: "Number of currently active listings",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketplace_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; routes here are low-cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
