// Package httpfront is the thin operational HTTP surface mounted alongside
// the dispatcher's catch-all handler: health/readiness, metrics, and the
// request-scoped logging and SSE-connection-limiting middleware shared by
// both the admin routes and the generated API routes. It does not route
// application traffic -- that is internal/dispatcher's job.
package httpfront

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/brrtrouter/brrtrouter/internal/cache"
)

// HealthChecker verifies that a dependency is reachable and healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server holds everything the operational routes need. Fields are nil-safe:
// a zero-value Server still answers /health/live and /metrics with the
// portions that don't depend on an optional dependency.
type Server struct {
	// RouteCount reports the number of routes currently loaded from the
	// active routing.Table. Nil in tests that don't build a full table.
	RouteCount func() int

	// DispatcherHealth reports whether the dispatcher holds a loaded route
	// table and worker pools are accepting work. Nil skips the check.
	DispatcherHealth HealthChecker

	// SecurityHealth reports whether configured JWKS/SPIFFE providers can
	// reach their key-set endpoints. Nil skips the check.
	SecurityHealth HealthChecker

	// SSELimiter, when set, supplies the active streaming connection count
	// reported by the metrics handler. The dispatcher does not consult it.
	SSELimiter *SSELimiter

	readyOnce  sync.Once
	readyCache *cache.Cache[string, readyResult]
}

// readyResult is the cached outcome of one HandleHealthReady evaluation.
type readyResult struct {
	status int
	resp   ReadinessResponse
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
