package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/brrtrouter/brrtrouter/internal/spec"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// SPIFFEProvider layers trust-domain and path-prefix validation on top of
// a JWT-SVID's `sub` claim (a spiffe:// URI), reusing BearerJWKSProvider
// for the underlying signature/issuer/audience/expiry checks -- BRRTRouter
// validates JWT-SVIDs bearing a SPIFFE ID rather than running the full
// Workload API / X.509-SVID handshake.
type SPIFFEProvider struct {
	jwks        Provider
	trustDomain spiffeid.TrustDomain
	pathPrefix  string
}

// NewSPIFFEProvider wraps an already-constructed JWKS provider with
// trust-domain/path-prefix checks. jwks is typed as the Provider interface
// (rather than *BearerJWKSProvider) so tests can substitute a fake without
// a live JWKS endpoint.
func NewSPIFFEProvider(jwks Provider, trustDomain, pathPrefix string) (*SPIFFEProvider, error) {
	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		return nil, fmt.Errorf("invalid trust domain %q: %w", trustDomain, err)
	}
	return &SPIFFEProvider{jwks: jwks, trustDomain: td, pathPrefix: pathPrefix}, nil
}

func (p *SPIFFEProvider) Validate(ctx context.Context, scheme spec.SecurityScheme, requiredScopes []string, req RequestSlice) (Decision, error) {
	decision, err := p.jwks.Validate(ctx, scheme, requiredScopes, req)
	if err != nil || !decision.Authorized {
		return decision, err
	}

	id, err := spiffeid.FromString(decision.Subject)
	if err != nil {
		return Decision{Authorized: false, Reason: "subject is not a valid SPIFFE ID"}, nil
	}

	if !id.MemberOf(p.trustDomain) {
		return Decision{Authorized: false, Reason: "SPIFFE ID is not a member of the configured trust domain"}, nil
	}

	if p.pathPrefix != "" && !strings.HasPrefix(id.Path(), p.pathPrefix) {
		return Decision{Authorized: false, Reason: "SPIFFE ID path does not match required prefix"}, nil
	}

	return decision, nil
}
