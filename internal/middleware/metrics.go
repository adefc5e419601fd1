package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agroia",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route pattern and status class.",
	}, []string{"method", "route", "status"})

	RequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agroia",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "HTTP requests currently being served.",
	})

	RequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agroia",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route"})

	AnalysesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "agroia",
		Subsystem: "analysis",
		Name:      "submitted_total",
		Help:      "Analyses classified and stored.",
	})

	DetectionsFound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agroia",
		Subsystem: "analysis",
		Name:      "detections_total",
		Help:      "Pest detections reported by the classifier, by pest type.",
	}, []string{"pest"})

	AnalysesDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agroia",
		Subsystem: "analysis",
		Name:      "deleted_total",
		Help:      "Analyses deleted, by reason (user or cleanup).",
	}, []string{"reason"})
)

// RegisterMetrics registers the collectors with the default registry. Safe to
// call more than once.
func RegisterMetrics() {
	once.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestsInFlight,
			RequestDurationSeconds,
			AnalysesSubmitted,
			DetectionsFound,
			AnalysesDeleted,
		)
	})
}

// Metrics records request count, latency and in-flight requests. The route
// label is chi's pattern so ids never reach the label set.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		RequestsInFlight.Inc()
		defer RequestsInFlight.Dec()

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		RequestsTotal.WithLabelValues(r.Method, route, statusClass(wrapped.statusCode)).Inc()
		RequestDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// MetricsHandler serves the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
