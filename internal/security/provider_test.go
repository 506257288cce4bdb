package security_test

import (
	"context"
	"testing"

	"github.com/brrtrouter/brrtrouter/internal/security"
	"github.com/brrtrouter/brrtrouter/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	authorize bool
	subject   string
}

func (f *fakeProvider) Validate(_ context.Context, _ spec.SecurityScheme, _ []string, _ security.RequestSlice) (security.Decision, error) {
	if !f.authorize {
		return security.Decision{Authorized: false, Reason: "fake deny"}, nil
	}
	return security.Decision{Authorized: true, Subject: f.subject}, nil
}

func schemes() map[string]spec.SecurityScheme {
	return map[string]spec.SecurityScheme{
		"apiKeyAuth": {Name: "apiKeyAuth", Kind: spec.SchemeAPIKey},
		"bearerAuth": {Name: "bearerAuth", Kind: spec.SchemeHTTP},
	}
}

func TestRegistry_NoRequirementsAlwaysAuthorizes(t *testing.T) {
	reg := security.NewRegistry(schemes())
	d, err := reg.Authorize(context.Background(), nil, security.RequestSlice{})
	require.NoError(t, err)
	assert.True(t, d.Authorized)
}

func TestRegistry_SingleRequirementSatisfied(t *testing.T) {
	reg := security.NewRegistry(schemes())
	reg.Register("apiKeyAuth", &fakeProvider{authorize: true, subject: "svc-a"})

	reqs := []spec.SecurityRequirement{{"apiKeyAuth": nil}}
	d, err := reg.Authorize(context.Background(), reqs, security.RequestSlice{})
	require.NoError(t, err)
	assert.True(t, d.Authorized)
	assert.Equal(t, "svc-a", d.Subject)
}

func TestRegistry_DisjunctionSucceedsOnSecondAlternative(t *testing.T) {
	reg := security.NewRegistry(schemes())
	reg.Register("apiKeyAuth", &fakeProvider{authorize: false})
	reg.Register("bearerAuth", &fakeProvider{authorize: true, subject: "svc-b"})

	reqs := []spec.SecurityRequirement{
		{"apiKeyAuth": nil},
		{"bearerAuth": nil},
	}
	d, err := reg.Authorize(context.Background(), reqs, security.RequestSlice{})
	require.NoError(t, err)
	assert.True(t, d.Authorized)
	assert.Equal(t, "svc-b", d.Subject)
}

func TestRegistry_AllAlternativesFail(t *testing.T) {
	reg := security.NewRegistry(schemes())
	reg.Register("apiKeyAuth", &fakeProvider{authorize: false})

	reqs := []spec.SecurityRequirement{{"apiKeyAuth": nil}}
	d, err := reg.Authorize(context.Background(), reqs, security.RequestSlice{})
	require.NoError(t, err)
	assert.False(t, d.Authorized)
}

func TestRegistry_UnregisteredProviderFailsClosed(t *testing.T) {
	reg := security.NewRegistry(schemes())
	reqs := []spec.SecurityRequirement{{"apiKeyAuth": nil}}
	d, err := reg.Authorize(context.Background(), reqs, security.RequestSlice{})
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.Contains(t, d.Reason, "no provider registered")
}

func TestRegistry_ConjunctionRequiresAllSchemes(t *testing.T) {
	reg := security.NewRegistry(schemes())
	reg.Register("apiKeyAuth", &fakeProvider{authorize: true, subject: "svc-a"})
	reg.Register("bearerAuth", &fakeProvider{authorize: false})

	reqs := []spec.SecurityRequirement{{"apiKeyAuth": nil, "bearerAuth": nil}}
	d, err := reg.Authorize(context.Background(), reqs, security.RequestSlice{})
	require.NoError(t, err)
	assert.False(t, d.Authorized)
}
