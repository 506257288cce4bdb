// Package security implements a provider registry: one Provider per named
// OpenAPI security scheme, resolved against the operation's security
// requirements (a disjunction of scheme-name→scopes conjunctions -- any
// one satisfied requirement authorizes the request).
//
// Built around a constant-time APIKey comparison and extractBearerToken
// pattern, generalized from a single static key / single middleware into
// a registry of named providers driven by config.SecurityConfig and
// spec.SecurityScheme.
package security

import (
	"context"
	"errors"

	"github.com/brrtrouter/brrtrouter/internal/spec"
)

// ErrProviderUnavailable wraps a Provider error caused by a transient
// dependency outage (e.g. a cold JWKS fetch failing) rather than an
// unauthenticated or malformed request. internal/middleware's Auth
// middleware uses errors.Is against this to choose 503 over 401.
var ErrProviderUnavailable = errors.New("security provider unavailable")

// RequestSlice exposes the parts of an inbound request a Provider needs,
// without coupling this package to net/http or the dispatcher's internal
// request representation.
type RequestSlice struct {
	Header func(name string) string
	Query  func(name string) string
	Cookie func(name string) string
}

// Decision is the outcome of validating one security requirement.
type Decision struct {
	Authorized bool
	Subject    string
	Scopes     []string
	Reason     string // populated when Authorized is false
}

// Provider validates a request against one named security scheme.
type Provider interface {
	Validate(ctx context.Context, scheme spec.SecurityScheme, requiredScopes []string, req RequestSlice) (Decision, error)
}

// Registry resolves a RouteDescriptor's security requirements against its
// registered Providers.
type Registry struct {
	schemes   map[string]spec.SecurityScheme
	providers map[string]Provider
}

// NewRegistry builds an empty registry over the given scheme map (from
// spec.SecuritySchemesFrom); providers are attached with Register.
func NewRegistry(schemes map[string]spec.SecurityScheme) *Registry {
	return &Registry{
		schemes:   schemes,
		providers: make(map[string]Provider),
	}
}

// Register attaches a Provider to a named scheme.
func (r *Registry) Register(schemeName string, p Provider) {
	r.providers[schemeName] = p
}

// Authorize checks whether req satisfies at least one of reqs (an empty
// reqs slice means "no security required", always satisfied). Returns the
// Decision for the requirement that succeeded, or the last failing
// Decision if none did.
func (r *Registry) Authorize(ctx context.Context, reqs []spec.SecurityRequirement, req RequestSlice) (Decision, error) {
	if len(reqs) == 0 {
		return Decision{Authorized: true}, nil
	}

	var last Decision
	for _, requirement := range reqs {
		ok, decision, err := r.satisfies(ctx, requirement, req)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return decision, nil
		}
		last = decision
	}
	return last, nil
}

func (r *Registry) satisfies(ctx context.Context, requirement spec.SecurityRequirement, req RequestSlice) (bool, Decision, error) {
	var combined Decision
	combined.Authorized = true

	for schemeName, scopes := range requirement {
		scheme, ok := r.schemes[schemeName]
		if !ok {
			return false, Decision{Authorized: false, Reason: "unknown security scheme: " + schemeName}, nil
		}
		provider, ok := r.providers[schemeName]
		if !ok {
			return false, Decision{Authorized: false, Reason: "no provider registered for scheme: " + schemeName}, nil
		}
		d, err := provider.Validate(ctx, scheme, scopes, req)
		if err != nil {
			return false, Decision{}, err
		}
		if !d.Authorized {
			return false, d, nil
		}
		combined.Subject = d.Subject
		combined.Scopes = append(combined.Scopes, d.Scopes...)
	}

	return true, combined, nil
}
