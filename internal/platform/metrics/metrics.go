// Package metrics holds the process-wide HTTP metrics. Module-specific
// counters live next to their modules; only transport-level observability
// belongs here.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
}

// New creates and registers the HTTP metrics.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fitgate_http_requests_total",
			Help: "Total HTTP requests by method and status",
		}, []string{"method", "status"}),
		RequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitgate_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// Middleware records every request. Nil-safe so tests can skip registration.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		m.RequestDuration.Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
