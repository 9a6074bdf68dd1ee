package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported on /metrics.
type Metrics struct {
	registry        *prometheus.Registry
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	optimizations   *prometheus.CounterVec
	optimizeSeconds *prometheus.HistogramVec
	frontierPoints  prometheus.Histogram
}

// NewMetrics registers every collector on a fresh registry, so several
// servers can live in one process (tests do).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crypto_risk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crypto_risk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		optimizations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crypto_risk_optimizations_total",
			Help: "Optimizer runs by objective and outcome",
		}, []string{"objective", "outcome"}),
		optimizeSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crypto_risk_optimization_duration_seconds",
			Help:    "Time spent in the optimizer",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"objective"}),
		frontierPoints: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crypto_risk_frontier_points",
			Help:    "Solved points per efficient frontier request",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOptimization counts one optimizer run. outcome is "ok", "failed"
// or "invalid".
func (m *Metrics) RecordOptimization(objective, outcome string, d time.Duration) {
	m.optimizations.WithLabelValues(objective, outcome).Inc()
	m.optimizeSeconds.WithLabelValues(objective).Observe(d.Seconds())
}

// RecordFrontier observes how many frontier targets solved.
func (m *Metrics) RecordFrontier(points int) {
	m.frontierPoints.Observe(float64(points))
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a route handler with request counting and timing.
func (m *Metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.code)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	}
}
