package httpfront

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/brrtrouter/brrtrouter/internal/cache"
)

// readinessTimeout is the per-dependency timeout for readiness checks.
const readinessTimeout = 2 * time.Second

// readyCacheTTL debounces readiness evaluation: probes arriving within this
// window of a completed evaluation reuse its result instead of re-running
// every dependency's HealthCheck, so a tight orchestrator probe interval
// can't pile up concurrent JWKS/dispatcher checks.
const readyCacheTTL = 1 * time.Second

// readyCacheKey is the single slot readyCache ever holds; there is only
// ever one readiness result per process.
const readyCacheKey = "ready"

// Build-time version information, set via -ldflags:
//
//	go build -ldflags "-X .../internal/httpfront.Version=1.0.0 -X .../internal/httpfront.GitCommit=abc1234"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// CheckResult holds the outcome of a single dependency health check.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ReadinessResponse is the structured JSON returned by GET /health/ready.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// HandleHealthLive is a liveness probe -- confirms the process is alive.
// Always returns 200, regardless of whether the route table or any
// security provider is reachable.
func (s *Server) HandleHealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
	})
}

// HandleHealthReady checks the dispatcher and security dependencies and
// returns 200 only if all configured checks pass, 503 otherwise. Each
// check runs with its own timeout so one stuck JWKS endpoint can't hang
// the whole readiness probe.
func (s *Server) HandleHealthReady(w http.ResponseWriter, r *http.Request) {
	s.readyOnce.Do(func() {
		s.readyCache = cache.New[string, readyResult](cache.Options{TTL: readyCacheTTL, MaxEntries: 1})
	})
	if cached, ok := s.readyCache.Get(readyCacheKey); ok {
		writeJSON(w, cached.status, cached.resp)
		return
	}

	checkers := s.healthCheckers()

	if len(checkers) == 0 {
		resp := ReadinessResponse{Status: "ready", Checks: map[string]CheckResult{}}
		s.readyCache.Set(readyCacheKey, readyResult{status: http.StatusOK, resp: resp})
		writeJSON(w, http.StatusOK, resp)
		return
	}

	type result struct {
		name string
		res  CheckResult
	}
	results := make([]result, len(checkers))

	var wg sync.WaitGroup
	i := 0
	for name, checker := range checkers {
		wg.Add(1)
		go func(idx int, n string, c HealthChecker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()

			if err := c.HealthCheck(ctx); err != nil {
				results[idx] = result{name: n, res: CheckResult{Status: "error", Error: err.Error()}}
			} else {
				results[idx] = result{name: n, res: CheckResult{Status: "ok"}}
			}
		}(i, name, checker)
		i++
	}
	wg.Wait()

	checks := make(map[string]CheckResult, len(results))
	allOK := true
	for _, res := range results {
		checks[res.name] = res.res
		if res.res.Status != "ok" {
			allOK = false
		}
	}

	resp := ReadinessResponse{Checks: checks}
	status := http.StatusOK
	if allOK {
		resp.Status = "ready"
	} else {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	s.readyCache.Set(readyCacheKey, readyResult{status: status, resp: resp})
	writeJSON(w, status, resp)
}

// HandleHealth is the backward-compatible health endpoint, aliasing the
// liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.HandleHealthLive(w, r)
}

func (s *Server) healthCheckers() map[string]HealthChecker {
	checkers := make(map[string]HealthChecker)
	if s.DispatcherHealth != nil {
		checkers["dispatcher"] = s.DispatcherHealth
	}
	if s.SecurityHealth != nil {
		checkers["security"] = s.SecurityHealth
	}
	return checkers
}

// HandleCapabilities reports the router's currently loaded route count and
// build metadata, the generalization of the source platform's feature-flag
// endpoint to a single-tenant router with no plugin/license concept.
func (s *Server) HandleCapabilities(w http.ResponseWriter, _ *http.Request) {
	routes := 0
	if s.RouteCount != nil {
		routes = s.RouteCount()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":     Version,
		"route_count": routes,
	})
}

// HandleMetrics is the fallback text-exposition renderer used when no
// internal/metrics.Store is wired into the server (e.g. in unit tests that
// construct a bare Server). cmd/brrtrouter mounts promhttp.HandlerFor the
// real prometheus.Registry instead whenever a Store is available.
func (s *Server) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP brrtrouter_build_info Build information about brrtrouter.\n")
	fmt.Fprintf(w, "# TYPE brrtrouter_build_info gauge\n")
	fmt.Fprintf(w, "brrtrouter_build_info{version=%q,git_commit=%q,go_version=%q} 1\n", Version, GitCommit, runtime.Version())

	fmt.Fprintf(w, "# HELP brrtrouter_goroutines Number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE brrtrouter_goroutines gauge\n")
	fmt.Fprintf(w, "brrtrouter_goroutines %d\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP brrtrouter_memory_alloc_bytes Current memory allocation in bytes.\n")
	fmt.Fprintf(w, "# TYPE brrtrouter_memory_alloc_bytes gauge\n")
	fmt.Fprintf(w, "brrtrouter_memory_alloc_bytes %d\n", memStats.Alloc)

	if s.SSELimiter != nil {
		fmt.Fprintf(w, "# HELP brrtrouter_sse_connections_active Current number of active SSE connections.\n")
		fmt.Fprintf(w, "# TYPE brrtrouter_sse_connections_active gauge\n")
		fmt.Fprintf(w, "brrtrouter_sse_connections_active %d\n", s.SSELimiter.GlobalCount())
	}
}
