// Package middleware implements the Before/After middleware chain: metrics
// pre-registration, structured tracing spans, bearer auth delegated to
// internal/security, and hand-rolled CORS with a build-time
// wildcard+credentials guard. Generalized from chi's http.Handler chain
// (RequestID, RequestLogger, cors.Handler wiring) to an explicit
// Before/After shape so the Dispatcher can short-circuit a request before
// it reaches the worker pool.
package middleware

import (
	"context"
	"time"

	"github.com/brrtrouter/brrtrouter/internal/handler"
)

// Middleware runs Before dispatch (and can short-circuit with a synthesized
// Response) and After the worker pool returns (for logging/metrics, and to
// add response headers: CORS's After merges its headers into the response).
type Middleware interface {
	// Before runs prior to parameter decode/validation/dispatch. Returning
	// ok=false with a non-nil *handler.Response short-circuits the pipeline
	// -- used by Auth (401) and CORS (preflight 204 / origin rejection).
	Before(ctx context.Context, req *handler.Request) (resp *handler.Response, ok bool)
	// After runs once the handler (or a short-circuit) has produced a
	// Response, in reverse registration order.
	After(ctx context.Context, req *handler.Request, resp *handler.Response, elapsed time.Duration)
}

// Chain runs a fixed, ordered list of Middleware.
type Chain struct {
	stack []Middleware
}

// NewChain builds a Chain from ms, run in the given order for Before and
// reverse order for After.
func NewChain(ms ...Middleware) *Chain {
	return &Chain{stack: ms}
}

// Before runs each middleware's Before in order, stopping at the first
// short-circuit. It returns the short-circuit response (if any) and the
// number of middlewares whose Before ran (including the one that
// short-circuited), so After only unwinds the middlewares that actually ran.
func (c *Chain) Before(ctx context.Context, req *handler.Request) (resp *handler.Response, ran int) {
	for i, m := range c.stack {
		if r, ok := m.Before(ctx, req); !ok {
			return r, i + 1
		}
	}
	return nil, len(c.stack)
}

// After runs After on the first `ran` middlewares in reverse order.
func (c *Chain) After(ctx context.Context, req *handler.Request, resp *handler.Response, elapsed time.Duration, ran int) {
	for i := ran - 1; i >= 0; i-- {
		c.stack[i].After(ctx, req, resp, elapsed)
	}
}

// Len reports how many middlewares are registered.
func (c *Chain) Len() int { return len(c.stack) }
