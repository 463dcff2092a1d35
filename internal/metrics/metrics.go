// Package metrics provides Prometheus instrumentation for the trade engine.
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
	// RequestsTotal counts trade invitations, partitioned by outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_requests_total",
		Help: "Total trade requests sent",
	}, []string{"result"})

	// SettlementsTotal counts terminal negotiations by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_settlements_total",
		Help: "Negotiations reaching a terminal state",
	}, []string{"outcome"}) // "settled" or "rolled_back"

	// ActiveSessions tracks live negotiations.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trade_sessions_active",
		Help: "Number of active negotiation sessions",
	})

	// PendingRequests tracks tracked (possibly expired) invitations.
	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trade_pending_requests",
		Help: "Number of pending trade requests",
	})

	// QuotaRejections counts settlements rejected by currency limits.
	QuotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trade_quota_rejections_total",
		Help: "Settlements rejected by trade or daily currency limits",
	})

	// ConnectedActors tracks websocket-connected actors.
	ConnectedActors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trade_connected_actors",
		Help: "Number of actors connected to the event feed",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trade_http_request_duration_seconds",
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
