package middleware

import (
	"context"
	"time"

	"github.com/brrtrouter/brrtrouter/internal/handler"
	"github.com/brrtrouter/brrtrouter/internal/spec"
)

// Recorder is the subset of internal/metrics.Store the Metrics middleware
// needs. Defined here (rather than importing internal/metrics directly) so
// middleware has no compile-time dependency on the concrete Prometheus
// registry -- tests substitute a fake, and internal/metrics.Store supplies
// one through its Recorder method.
type Recorder struct {
	ObserveRequest    func(path, method string, status int, d time.Duration)
	IncAuthFailure    func(path string)
	PreregisterRoutes func(routes []spec.RouteDescriptor)
}

// Metrics pre-registers a counter/histogram label set per route at
// construction time (via PreregisterRoutes) so the hot path never creates a
// new label combination on first request.
type Metrics struct {
	rec Recorder
}

// NewMetrics builds the Metrics middleware and immediately pre-registers
// every route in routes against rec.
func NewMetrics(rec Recorder, routes []spec.RouteDescriptor) *Metrics {
	if rec.PreregisterRoutes != nil {
		rec.PreregisterRoutes(routes)
	}
	return &Metrics{rec: rec}
}

func (m *Metrics) Before(_ context.Context, _ *handler.Request) (*handler.Response, bool) {
	return nil, true
}

func (m *Metrics) After(_ context.Context, req *handler.Request, resp *handler.Response, elapsed time.Duration) {
	if m.rec.ObserveRequest == nil || resp == nil {
		return
	}
	m.rec.ObserveRequest(req.Path, req.Method, resp.Status, elapsed)
}
