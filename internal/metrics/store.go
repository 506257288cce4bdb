// Package metrics is the Metrics Store: a self-contained prometheus.Registry
// with pre-registered label sets for every route known at startup, so the
// hot path never pays for first-request label-set creation.
//
// Uses an instance-owned prometheus.NewRegistry rather than package-global
// promauto registration, so multiple Stores constructed in the same
// process (or the same test binary) never collide on global state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brrtrouter/brrtrouter/internal/middleware"
	"github.com/brrtrouter/brrtrouter/internal/spec"
)

// Store owns the process's Prometheus registry and the counters/histogram
// the dispatcher and middleware chain feed.
type Store struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	shedTotal     *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New builds a Store with its own registry and registers BRRTRouter's own
// metrics on it; no Go runtime or process collectors are registered.
func New() *Store {
	registry := prometheus.NewRegistry()

	s := &Store{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brrtrouter_requests_total",
			Help: "Total dispatched requests by path, method and status.",
		}, []string{"path", "method", "status"}),
		shedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brrtrouter_requests_shed_total",
			Help: "Requests rejected by the worker pool's backpressure policy, by path.",
		}, []string{"path"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brrtrouter_auth_failures_total",
			Help: "Requests rejected by the security provider registry, by path.",
		}, []string{"path"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brrtrouter_request_duration_seconds",
			Help:    "Request latency in seconds from dispatch start to response, by path and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}

	registry.MustRegister(s.requestsTotal, s.shedTotal, s.authFailures, s.latency)
	return s
}

// PreregisterRoutes creates the path/method label combinations for every
// route up front (status is left to vary per request, since it cannot be
// known in advance), eliminating first-request label-set allocation.
func (s *Store) PreregisterRoutes(routes []spec.RouteDescriptor) {
	for _, r := range routes {
		s.shedTotal.WithLabelValues(r.PathPattern)
		s.authFailures.WithLabelValues(r.PathPattern)
		s.latency.WithLabelValues(r.PathPattern, r.Method)
	}
}

// ObserveRequest records one completed dispatch.
func (s *Store) ObserveRequest(path, method string, status int, d time.Duration) {
	s.requestsTotal.WithLabelValues(path, method, statusLabel(status)).Inc()
	s.latency.WithLabelValues(path, method).Observe(d.Seconds())
}

// IncShed records one worker-pool backpressure rejection for path.
func (s *Store) IncShed(path string) {
	s.shedTotal.WithLabelValues(path).Inc()
}

// IncAuthFailure records one security-provider rejection for path.
func (s *Store) IncAuthFailure(path string) {
	s.authFailures.WithLabelValues(path).Inc()
}

// Recorder adapts the Store to middleware.Recorder's function-field shape,
// so internal/middleware never imports this package directly.
func (s *Store) Recorder() middleware.Recorder {
	return middleware.Recorder{
		ObserveRequest:    s.ObserveRequest,
		IncAuthFailure:    s.IncAuthFailure,
		PreregisterRoutes: s.PreregisterRoutes,
	}
}

// Handler serves the registry's text exposition for GET /metrics.
func (s *Store) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func statusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "0xx"
	}
}
