package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the admission module.
// Denials are labeled by code so dashboards can separate quota pressure from
// risk blocks and rate limiting.
type Metrics struct {
	Admitted       prometheus.Counter
	Denied         *prometheus.CounterVec
	ReleaseFailed  prometheus.Counter
	AdmitDuration  prometheus.Histogram
	ReserveRetries prometheus.Counter
}

// New creates a new Metrics instance with all admission module metrics registered.
func New() *Metrics {
	return &Metrics{
		Admitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fitgate_admissions_total",
			Help: "Total number of admitted guest requests",
		}),
		Denied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fitgate_denials_total",
			Help: "Total number of denied requests by denial code",
		}, []string{"code"}),
		ReleaseFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fitgate_usage_release_failures_total",
			Help: "Reservations that could not be released after the protected operation failed",
		}),
		AdmitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitgate_admit_duration_seconds",
			Help:    "Duration of full admission decisions, excluding the protected operation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ReserveRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fitgate_release_retries_total",
			Help: "Retry attempts made while compensating a failed reservation",
		}),
	}
}

// IncrementAdmitted records an admitted request.
func (m *Metrics) IncrementAdmitted() {
	m.Admitted.Inc()
}

// IncrementDenied records a denial under its machine-readable code.
func (m *Metrics) IncrementDenied(code string) {
	m.Denied.WithLabelValues(code).Inc()
}

// ObserveAdmit records the duration of an admission decision.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAdmit(start time.Time) {
	m.AdmitDuration.Observe(time.Since(start).Seconds())
}
