package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/brrtrouter/brrtrouter/internal/handler"
	"github.com/brrtrouter/brrtrouter/internal/security"
	"github.com/brrtrouter/brrtrouter/internal/spec"
)

// Auth delegates authorization to a security.Registry, short-circuiting
// with 401 (or 503 if the failure was a provider outage, per
// security.ErrProviderUnavailable) and incrementing an auth-failure counter
// on the Metrics Store.
type Auth struct {
	registry *security.Registry
	// Requirements looks up the security requirements for a route by
	// handler name. Populated from spec.RouteDescriptor.Security at
	// construction; a route absent from the map has no requirement.
	requirements map[string][]spec.SecurityRequirement
	onFailure    func(path string)
}

// NewAuth builds the Auth middleware from a compiled route table's security
// requirements and a Registry wired by security.Build.
func NewAuth(registry *security.Registry, routes []spec.RouteDescriptor, onFailure func(path string)) *Auth {
	reqs := make(map[string][]spec.SecurityRequirement, len(routes))
	for _, r := range routes {
		if len(r.Security) > 0 {
			reqs[r.HandlerName] = r.Security
		}
	}
	return &Auth{registry: registry, requirements: reqs, onFailure: onFailure}
}

func (a *Auth) Before(ctx context.Context, req *handler.Request) (*handler.Response, bool) {
	reqs, ok := a.requirements[req.HandlerName]
	if !ok {
		return nil, true
	}

	slice := security.RequestSlice{
		Header: func(name string) string { return req.Header[name] },
		Query:  func(name string) string { return req.QueryParams[name] },
		Cookie: func(name string) string { return req.Cookie[name] },
	}

	decision, err := a.registry.Authorize(ctx, reqs, slice)
	if err != nil {
		if a.onFailure != nil {
			a.onFailure(req.Path)
		}
		if errors.Is(err, security.ErrProviderUnavailable) {
			return handler.JSONResponse(503, map[string]string{"error": "security provider unavailable"}), false
		}
		return handler.JSONResponse(401, map[string]string{"error": "unauthorized"}), false
	}
	if !decision.Authorized {
		if a.onFailure != nil {
			a.onFailure(req.Path)
		}
		return handler.JSONResponse(401, map[string]string{"error": decision.Reason}), false
	}

	req.Claims = &handler.Claims{Subject: decision.Subject, Scopes: decision.Scopes}
	return nil, true
}

func (a *Auth) After(_ context.Context, _ *handler.Request, _ *handler.Response, _ time.Duration) {}
