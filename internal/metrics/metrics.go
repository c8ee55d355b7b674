package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Submission metrics
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_submissions_total",
			Help: "Attendance submissions by outcome",
		},
		[]string{"outcome"},
	)

	SubmissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attendance_submission_duration_seconds",
			Help:    "Time taken to validate and commit a submission in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Session metrics
	SessionTokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_session_tokens_issued_total",
			Help: "Total number of session tokens minted for QR codes",
		},
	)

	CounterRebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_counter_rebuilds_total",
			Help: "Counter rebuilds by result",
		},
		[]string{"result"},
	)

	// API metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(SubmissionDuration)
	prometheus.MustRegister(SessionTokensIssued)
	prometheus.MustRegister(CounterRebuilds)
	prometheus.MustRegister(HTTPRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation and reports it to a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on h.
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
