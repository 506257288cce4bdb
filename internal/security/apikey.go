package security

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/brrtrouter/brrtrouter/internal/spec"
)

// APIKeyProvider validates a scheme.In-located key against a fixed set of
// named expected values, one per OpenAPI security-scheme name. Constant-time
// comparison guards against timing side-channels, generalized from a
// single global key to a lookup keyed by scheme name
// (config.SecurityConfig.APIKeys).
type APIKeyProvider struct {
	expected map[string][]byte // scheme name -> expected key bytes
}

// NewAPIKeyProvider builds a provider from scheme-name -> expected-key-value pairs.
func NewAPIKeyProvider(keys map[string]string) *APIKeyProvider {
	expected := make(map[string][]byte, len(keys))
	for name, key := range keys {
		expected[name] = []byte(key)
	}
	return &APIKeyProvider{expected: expected}
}

func (p *APIKeyProvider) Validate(_ context.Context, scheme spec.SecurityScheme, _ []string, req RequestSlice) (Decision, error) {
	want, ok := p.expected[scheme.Name]
	if !ok || len(want) == 0 {
		return Decision{Authorized: false, Reason: "no api key configured for scheme " + scheme.Name}, nil
	}

	got := extractAPIKey(scheme, req)
	if got == "" {
		return Decision{Authorized: false, Reason: "missing api key"}, nil
	}

	if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
		return Decision{Authorized: false, Reason: "invalid api key"}, nil
	}

	return Decision{Authorized: true, Subject: scheme.Name}, nil
}

func extractAPIKey(scheme spec.SecurityScheme, req RequestSlice) string {
	switch scheme.In {
	case spec.ParameterInQuery:
		return req.Query(scheme.KeyName)
	case spec.ParameterInCookie:
		return req.Cookie(scheme.KeyName)
	default:
		return req.Header(scheme.KeyName)
	}
}

// extractBearerToken pulls the token out of an "Authorization: Bearer
// <token>" header, for HttpBearer/JWKS/SPIFFE providers that always read
// the standard bearer header regardless of the scheme's declared `in`.
func extractBearerToken(req RequestSlice) string {
	h := req.Header("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}
