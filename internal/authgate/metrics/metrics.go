// Package metrics collects and exposes the service's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every authgate metric. It implements idp.Observer.
type Collector struct {
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpInflight  prometheus.Gauge
	providerCalls *prometheus.CounterVec
	providerTime  *prometheus.HistogramVec
	jwksRefreshes *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_requests_total",
			Help: "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authgate_http_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_idp_calls_total",
			Help: "Identity provider operations, by operation and outcome.",
		}, []string{"op", "outcome"}),
		providerTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_idp_call_duration_seconds",
			Help:    "Identity provider operation latency.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		jwksRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_jwks_refresh_total",
			Help: "Signing key refreshes, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.httpInflight,
		c.providerCalls,
		c.providerTime,
		c.jwksRefreshes,
	)

	return c
}

// ObserveProviderCall records one identity provider operation.
func (c *Collector) ObserveProviderCall(op, outcome string, elapsed time.Duration) {
	c.providerCalls.WithLabelValues(op, outcome).Inc()
	c.providerTime.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordJWKSRefresh counts a key refresh attempt.
func (c *Collector) RecordJWKSRefresh(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.jwksRefreshes.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency. Routes are labelled with
// the ServeMux pattern, so it must wrap the mux directly.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		c.httpInflight.Inc()
		defer c.httpInflight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the /metrics scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
