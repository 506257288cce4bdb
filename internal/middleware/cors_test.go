package middleware_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/brrtrouter/brrtrouter/internal/handler"
	"github.com/brrtrouter/brrtrouter/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCORS_WildcardWithCredentialsRejected(t *testing.T) {
	_, err := middleware.NewCORS(middleware.CORSOptions{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
	})
	assert.Error(t, err)
}

func TestNewCORS_WildcardWithoutCredentialsAllowed(t *testing.T) {
	_, err := middleware.NewCORS(middleware.CORSOptions{AllowedOrigins: []string{"*"}})
	require.NoError(t, err)
}

func TestNewCORS_InvalidRegexRejected(t *testing.T) {
	_, err := middleware.NewCORS(middleware.CORSOptions{AllowedOriginsRx: []string{"("}})
	assert.Error(t, err)
}

func TestCORS_NoOriginHeaderPassesThrough(t *testing.T) {
	c, err := middleware.NewCORS(middleware.CORSOptions{AllowedOrigins: []string{"https://example.com"}})
	require.NoError(t, err)

	req := &handler.Request{Method: http.MethodGet, Header: map[string]string{}}
	resp, ok := c.Before(context.Background(), req)
	assert.True(t, ok)
	assert.Nil(t, resp)
}

func TestCORS_DisallowedOriginRejected(t *testing.T) {
	c, err := middleware.NewCORS(middleware.CORSOptions{AllowedOrigins: []string{"https://example.com"}})
	require.NoError(t, err)

	req := &handler.Request{Method: http.MethodGet, Header: map[string]string{"Origin": "https://evil.com"}}
	resp, ok := c.Before(context.Background(), req)
	assert.False(t, ok)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.Status)
}

func TestCORS_PreflightShortCircuitsWithNoContent(t *testing.T) {
	c, err := middleware.NewCORS(middleware.CORSOptions{
		AllowedOrigins: []string{"https://example.com"},
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         300,
	})
	require.NoError(t, err)

	req := &handler.Request{Method: http.MethodOptions, Header: map[string]string{"Origin": "https://example.com"}}
	resp, ok := c.Before(context.Background(), req)
	assert.False(t, ok)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Equal(t, "https://example.com", resp.Header["Access-Control-Allow-Origin"])
	assert.Equal(t, "300", resp.Header["Access-Control-Max-Age"])
}

func TestCORS_RegexOriginMatch(t *testing.T) {
	c, err := middleware.NewCORS(middleware.CORSOptions{AllowedOriginsRx: []string{`^https://.*\.example\.com$`}})
	require.NoError(t, err)

	req := &handler.Request{Method: http.MethodGet, Header: map[string]string{"Origin": "https://api.example.com"}}
	_, ok := c.Before(context.Background(), req)
	assert.True(t, ok)
	assert.NotEmpty(t, req.PendingHeaders["Access-Control-Allow-Origin"])
}

func TestCORS_AfterMergesPendingHeadersIntoHandlerResponse(t *testing.T) {
	c, err := middleware.NewCORS(middleware.CORSOptions{AllowedOrigins: []string{"https://example.com"}})
	require.NoError(t, err)

	req := &handler.Request{Method: http.MethodGet, Header: map[string]string{"Origin": "https://example.com"}}
	_, ok := c.Before(context.Background(), req)
	require.True(t, ok)

	resp := handler.JSONResponse(200, map[string]string{"ok": "true"})
	c.After(context.Background(), req, resp, 0)

	assert.Equal(t, "https://example.com", resp.Header["Access-Control-Allow-Origin"])
}

func TestCORS_CredentialsHeaderSetWhenConfigured(t *testing.T) {
	c, err := middleware.NewCORS(middleware.CORSOptions{
		AllowedOrigins:   []string{"https://example.com"},
		AllowCredentials: true,
	})
	require.NoError(t, err)

	req := &handler.Request{Method: http.MethodGet, Header: map[string]string{"Origin": "https://example.com"}}
	_, ok := c.Before(context.Background(), req)
	require.True(t, ok)
	assert.Equal(t, "true", req.PendingHeaders["Access-Control-Allow-Credentials"])
}
