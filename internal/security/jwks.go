package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/brrtrouter/brrtrouter/internal/spec"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/robfig/cron/v3"
)

// claimsEntry is what the bounded LRU cache stores per validated token.
type claimsEntry struct {
	subject  string
	scopes   []string
	expiry   time.Time
	audience string
	issuer   string
}

// BearerJWKSProvider validates a bearer JWT against a JWKS endpoint using
// lestrrat-go/jwx/v2's background-refreshing jwk.Cache, then checks
// issuer/audience/expiry/required-scopes. Validated claims are cached in a
// bounded LRU keyed by SHA-256 of the raw token, never the token itself,
// so the cache can't be used to recover a valid token and memory is
// bounded independent of token length.
type BearerJWKSProvider struct {
	url            string
	issuer         string
	audience       string
	requiredScopes []string

	jwkCache *jwk.Cache
	claims   *lru.Cache[string, claimsEntry]
	cron     *cron.Cron
}

// NewBearerJWKSProvider constructs a provider and registers url with a
// background-refreshing jwk.Cache at the given interval. jwk.Cache only
// refreshes lazily, on the first Get after its min-refresh-interval has
// elapsed; a cron job forces an eager tick on the same interval so the
// first request after a key rotation never pays the refresh latency.
func NewBearerJWKSProvider(ctx context.Context, cfg JWKSConfig) (*BearerJWKSProvider, error) {
	cache := jwk.NewCache(ctx)
	refresh := time.Duration(cfg.RefreshSeconds) * time.Second
	if refresh <= 0 {
		refresh = 5 * time.Minute
	}
	if err := cache.Register(cfg.URL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return nil, fmt.Errorf("register jwks cache for %s: %w", cfg.URL, err)
	}
	if _, err := cache.Refresh(ctx, cfg.URL); err != nil {
		return nil, fmt.Errorf("initial jwks fetch for %s: %w", cfg.URL, err)
	}

	claims, err := lru.New[string, claimsEntry](2048)
	if err != nil {
		return nil, fmt.Errorf("create claims cache: %w", err)
	}

	p := &BearerJWKSProvider{
		url:            cfg.URL,
		issuer:         cfg.Issuer,
		audience:       cfg.Audience,
		requiredScopes: cfg.RequiredScopes,
		jwkCache:       cache,
		claims:         claims,
		cron:           cron.New(),
	}

	cronSpec := fmt.Sprintf("@every %s", refresh.String())
	if _, err := p.cron.AddFunc(cronSpec, func() {
		_, _ = p.jwkCache.Refresh(context.Background(), p.url)
	}); err != nil {
		return nil, fmt.Errorf("schedule jwks refresh tick: %w", err)
	}
	p.cron.Start()

	return p, nil
}

// Close stops the background refresh tick. Safe to call once during
// server shutdown; the underlying jwk.Cache goroutine is tied to the
// context passed to NewBearerJWKSProvider instead.
func (p *BearerJWKSProvider) Close() {
	p.cron.Stop()
}

func (p *BearerJWKSProvider) Validate(ctx context.Context, scheme spec.SecurityScheme, requiredScopes []string, req RequestSlice) (Decision, error) {
	token := extractBearerToken(req)
	if token == "" {
		return Decision{Authorized: false, Reason: "missing bearer token"}, nil
	}

	hash := hashToken(token)
	if entry, ok := p.claims.Get(hash); ok {
		if time.Now().Before(entry.expiry) {
			return p.decisionFromEntry(entry, requiredScopes)
		}
		p.claims.Remove(hash)
	}

	set, err := p.jwkCache.Get(ctx, p.url)
	if err != nil {
		return Decision{}, fmt.Errorf("fetch jwks: %w: %w", ErrProviderUnavailable, err)
	}

	parsed, err := jwt.Parse([]byte(token), jwt.WithKeySet(set), jwt.WithValidate(true))
	if err != nil {
		return Decision{Authorized: false, Reason: "invalid token: " + err.Error()}, nil
	}

	if p.issuer != "" && parsed.Issuer() != p.issuer {
		return Decision{Authorized: false, Reason: "unexpected issuer"}, nil
	}
	if p.audience != "" && !containsString(parsed.Audience(), p.audience) {
		return Decision{Authorized: false, Reason: "unexpected audience"}, nil
	}

	entry := claimsEntry{
		subject:  parsed.Subject(),
		scopes:   extractScopes(parsed),
		expiry:   parsed.Expiration(),
		audience: p.audience,
		issuer:   parsed.Issuer(),
	}
	p.claims.Add(hash, entry)

	return p.decisionFromEntry(entry, requiredScopes)
}

func (p *BearerJWKSProvider) decisionFromEntry(entry claimsEntry, requiredScopes []string) (Decision, error) {
	scopes := append([]string(nil), requiredScopes...)
	scopes = append(scopes, p.requiredScopes...)
	for _, want := range scopes {
		if !containsString(entry.scopes, want) {
			return Decision{Authorized: false, Reason: "missing required scope: " + want}, nil
		}
	}
	return Decision{Authorized: true, Subject: entry.subject, Scopes: entry.scopes}, nil
}

func extractScopes(token jwt.Token) []string {
	raw, ok := token.Get("scope")
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return splitScopes(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func splitScopes(s string) []string {
	var out []string
	field := ""
	for _, r := range s {
		if r == ' ' {
			if field != "" {
				out = append(out, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// JWKSConfig mirrors config.JWKSConfig's fields as plain values, so
// NewBearerJWKSProvider does not take the yaml-tagged struct; Build copies
// each config.JWKSConfig into one.
type JWKSConfig struct {
	URL            string
	Issuer         string
	Audience       string
	RefreshSeconds int
	RequiredScopes []string
}
