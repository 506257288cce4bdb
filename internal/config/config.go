// Package config loads the optional brrtrouter.yaml ambient configuration
// file (CORS origins, security provider wiring) and the environment-variable
// driven RuntimeConfig. Community deployments run
// with zero config (sensible defaults); the yaml file only exists to declare
// things that don't fit cleanly into a handful of env vars.
//
// The loader itself is a plain yaml.Unmarshal into this struct, generalized
// here to cover CORS and security-provider wiring rather than a single
// concern.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level brrtrouter.yaml configuration.
type Config struct {
	// CORS declares the allowed origins for the CORS middleware. Empty means
	// "http://localhost:3000" only.
	CORS CORSConfig `yaml:"cors"`

	// Security declares named security-scheme providers the registry should
	// construct at startup (API keys, JWKS issuers, SPIFFE trust domains).
	Security SecurityConfig `yaml:"security"`
}

// CORSConfig configures the CORS middleware at the file level. The CORS
// middleware applies this one policy to every route; an x-cors extension in
// the loaded OpenAPI document is parsed into spec.RouteDescriptor.CORS but
// does not change the policy applied.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// SecurityConfig declares the static configuration for built-in security
// providers (API key values, JWKS URLs, SPIFFE trust domains). Scheme names
// must match the `securitySchemes` keys in the loaded OpenAPI document.
type SecurityConfig struct {
	APIKeys map[string]string       `yaml:"api_keys"` // scheme name -> expected key value
	JWKS    map[string]JWKSConfig   `yaml:"jwks"`     // scheme name -> JWKS source
	SPIFFE  map[string]SPIFFEConfig `yaml:"spiffe"`   // scheme name -> trust config
}

// JWKSConfig configures a bearer-token provider backed by a JWKS endpoint.
type JWKSConfig struct {
	URL            string   `yaml:"url"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	RefreshSeconds int      `yaml:"refresh_seconds"`
	RequiredScopes []string `yaml:"required_scopes"`
}

// SPIFFEConfig configures a SPIFFE-ID validating provider layered on a JWKS source.
type SPIFFEConfig struct {
	JWKS        JWKSConfig `yaml:"jwks"`
	TrustDomain string     `yaml:"trust_domain"`
	PathPrefix  string     `yaml:"path_prefix"`
}

// DefaultConfig returns zero-config defaults (no security providers, default CORS).
func DefaultConfig() *Config {
	return &Config{
		CORS: CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
}

// Load parses a brrtrouter.yaml file. If path is empty, returns defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ResolvePath finds the config file path.
// Priority: BRRTR_CONFIG env var > ./brrtrouter.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("BRRTR_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("brrtrouter.yaml"); err == nil {
		return "brrtrouter.yaml"
	}
	return ""
}

// validate checks that declared providers carry their required fields.
func (c *Config) validate() error {
	for name, jwks := range c.Security.JWKS {
		if jwks.URL == "" {
			return fmt.Errorf("security.jwks[%q]: url is required", name)
		}
	}
	for name, sp := range c.Security.SPIFFE {
		if sp.JWKS.URL == "" {
			return fmt.Errorf("security.spiffe[%q]: jwks.url is required", name)
		}
		if sp.TrustDomain == "" {
			return fmt.Errorf("security.spiffe[%q]: trust_domain is required", name)
		}
	}
	return nil
}
