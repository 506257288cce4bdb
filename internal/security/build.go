package security

import (
	"context"
	"fmt"

	"github.com/brrtrouter/brrtrouter/internal/config"
	"github.com/brrtrouter/brrtrouter/internal/spec"
)

// Build constructs a Registry wired with one Provider per scheme declared
// in both the OpenAPI document's components.securitySchemes and the
// loaded config.SecurityConfig. A scheme present in the document but
// unconfigured is registered without a provider -- any route requiring it
// fails closed at Authorize time with "no provider registered".
func Build(ctx context.Context, cfg config.SecurityConfig, schemes map[string]spec.SecurityScheme) (*Registry, error) {
	reg := NewRegistry(schemes)

	if len(cfg.APIKeys) > 0 {
		provider := NewAPIKeyProvider(cfg.APIKeys)
		for name := range cfg.APIKeys {
			reg.Register(name, provider)
		}
	}

	jwksProviders := make(map[string]*BearerJWKSProvider, len(cfg.JWKS))
	for name, jc := range cfg.JWKS {
		provider, err := NewBearerJWKSProvider(ctx, JWKSConfig{
			URL:            jc.URL,
			Issuer:         jc.Issuer,
			Audience:       jc.Audience,
			RefreshSeconds: jc.RefreshSeconds,
			RequiredScopes: jc.RequiredScopes,
		})
		if err != nil {
			return nil, fmt.Errorf("build jwks provider %q: %w", name, err)
		}
		jwksProviders[name] = provider
		reg.Register(name, provider)
	}

	for name, sc := range cfg.SPIFFE {
		jwksProvider, err := NewBearerJWKSProvider(ctx, JWKSConfig{
			URL:            sc.JWKS.URL,
			Issuer:         sc.JWKS.Issuer,
			Audience:       sc.JWKS.Audience,
			RefreshSeconds: sc.JWKS.RefreshSeconds,
			RequiredScopes: sc.JWKS.RequiredScopes,
		})
		if err != nil {
			return nil, fmt.Errorf("build spiffe jwks provider %q: %w", name, err)
		}
		provider, err := NewSPIFFEProvider(jwksProvider, sc.TrustDomain, sc.PathPrefix)
		if err != nil {
			return nil, fmt.Errorf("build spiffe provider %q: %w", name, err)
		}
		reg.Register(name, provider)
	}

	return reg, nil
}
