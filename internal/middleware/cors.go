package middleware

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/brrtrouter/brrtrouter/internal/handler"
)

// CORSOptions mirrors go-chi/cors.Options' field names and header constants
// even though this CORS middleware is hand-rolled, not backed by
// go-chi/cors, so that anyone who has used chi's cors package recognizes
// the shape.
type CORSOptions struct {
	AllowedOrigins   []string // exact list; "*" means allow-all, rejected when AllowCredentials is true
	AllowedOriginsRx []string // regex patterns, OR'd with AllowedOrigins
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int // seconds, 0 disables preflight caching
}

// CORS implements exact-list / wildcard / regex origin matching and
// preflight short-circuiting. Unlike an AllowOriginFunc dynamic-origin-
// reflection fallback, NewCORS rejects a wildcard+credentials combination
// with a build-time error, since the two can never both be true in a
// running server.
type CORS struct {
	opts     CORSOptions
	wildcard bool
	regexes  []*regexp.Regexp
}

// NewCORS validates opts and builds a CORS middleware. Returns an error if
// AllowCredentials is true and AllowedOrigins contains "*".
func NewCORS(opts CORSOptions) (*CORS, error) {
	wildcard := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			wildcard = true
			break
		}
	}
	if wildcard && opts.AllowCredentials {
		return nil, fmt.Errorf("cors: AllowedOrigins \"*\" cannot be combined with AllowCredentials")
	}

	regexes := make([]*regexp.Regexp, 0, len(opts.AllowedOriginsRx))
	for _, pattern := range opts.AllowedOriginsRx {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("cors: invalid origin regex %q: %w", pattern, err)
		}
		regexes = append(regexes, re)
	}

	return &CORS{opts: opts, wildcard: wildcard, regexes: regexes}, nil
}

func (c *CORS) allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if c.wildcard {
		return true
	}
	for _, o := range c.opts.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	for _, re := range c.regexes {
		if re.MatchString(origin) {
			return true
		}
	}
	return false
}

func (c *CORS) Before(_ context.Context, req *handler.Request) (*handler.Response, bool) {
	origin := req.Header["Origin"]
	if origin == "" {
		return nil, true
	}

	if !c.allowed(origin) {
		return handler.JSONResponse(http.StatusForbidden, map[string]string{"error": "origin not allowed"}), false
	}

	headers := c.responseHeaders(origin)

	if req.Method == http.MethodOptions {
		resp := &handler.Response{Status: http.StatusNoContent, Header: headers, BodyKind: handler.BodyNone}
		return resp, false
	}

	req.PendingHeaders = headers
	return nil, true
}

func (c *CORS) After(_ context.Context, req *handler.Request, resp *handler.Response, _ time.Duration) {
	if resp == nil || len(req.PendingHeaders) == 0 {
		return
	}
	if resp.Header == nil {
		resp.Header = make(map[string]string)
	}
	for k, v := range req.PendingHeaders {
		resp.Header[k] = v
	}
}

func (c *CORS) responseHeaders(origin string) map[string]string {
	h := map[string]string{"Access-Control-Allow-Origin": origin}
	if len(c.opts.AllowedMethods) > 0 {
		h["Access-Control-Allow-Methods"] = joinComma(c.opts.AllowedMethods)
	}
	if len(c.opts.AllowedHeaders) > 0 {
		h["Access-Control-Allow-Headers"] = joinComma(c.opts.AllowedHeaders)
	}
	if len(c.opts.ExposedHeaders) > 0 {
		h["Access-Control-Expose-Headers"] = joinComma(c.opts.ExposedHeaders)
	}
	if c.opts.AllowCredentials {
		h["Access-Control-Allow-Credentials"] = "true"
	}
	if c.opts.MaxAge > 0 {
		h["Access-Control-Max-Age"] = fmt.Sprintf("%d", c.opts.MaxAge)
	}
	h["Vary"] = "Origin"
	return h
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
