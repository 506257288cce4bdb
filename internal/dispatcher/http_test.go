package dispatcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brrtrouter/brrtrouter/internal/dispatcher"
	"github.com/brrtrouter/brrtrouter/internal/handler"
	"github.com/brrtrouter/brrtrouter/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHandler_RoutesGETRequestAndEncodesJSON(t *testing.T) {
	d := newDispatcher(t, []spec.RouteDescriptor{getPetRoute()}, map[string]dispatcher.HandlerFunc{
		"getPet": func(_ context.Context, req *handler.Request) *handler.Response {
			return handler.JSONResponse(200, map[string]string{"id": req.PathParams["id"]})
		},
	}, baseCfg(), nil)

	req := httptest.NewRequest(http.MethodGet, "/pets/7", nil)
	rec := httptest.NewRecorder()
	dispatcher.HTTPHandler(d).ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"7"}`, rec.Body.String())
}

func TestHTTPHandler_UnknownPathReturns404(t *testing.T) {
	d := newDispatcher(t, []spec.RouteDescriptor{getPetRoute()}, nil, baseCfg(), nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	dispatcher.HTTPHandler(d).ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestHTTPHandler_POSTBodyReachesHandlerAsDecodedJSON(t *testing.T) {
	route := createPetRoute(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	d := newDispatcher(t, []spec.RouteDescriptor{route}, map[string]dispatcher.HandlerFunc{
		"createPet": func(_ context.Context, req *handler.Request) *handler.Response {
			body := req.Body.(map[string]any)
			return handler.JSONResponse(201, map[string]string{"name": body["name"].(string)})
		},
	}, baseCfg(), nil)

	req := httptest.NewRequest(http.MethodPost, "/pets", strings.NewReader(`{"name":"Rex"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	dispatcher.HTTPHandler(d).ServeHTTP(rec, req)

	require.Equal(t, 201, rec.Code)
	assert.JSONEq(t, `{"name":"Rex"}`, rec.Body.String())
}

func TestHTTPHandler_StreamsSSEEventsAndFlushes(t *testing.T) {
	route := spec.RouteDescriptor{Method: "GET", PathPattern: "/stream", HandlerName: "stream", SSE: true}
	events := make(chan string, 2)
	events <- "data: one\n\n"
	events <- "data: two\n\n"
	close(events)

	d := newDispatcher(t, []spec.RouteDescriptor{route}, map[string]dispatcher.HandlerFunc{
		"stream": func(_ context.Context, _ *handler.Request) *handler.Response {
			return handler.SSEResponse(events)
		},
	}, baseCfg(), nil)

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	rec := httptest.NewRecorder()
	dispatcher.HTTPHandler(d).ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: one\n\ndata: two\n\n", rec.Body.String())
}

func TestHTTPHandler_MethodMismatchSetsAllowHeader(t *testing.T) {
	d := newDispatcher(t, []spec.RouteDescriptor{getPetRoute()}, nil, baseCfg(), nil)

	req := httptest.NewRequest(http.MethodDelete, "/pets/1", nil)
	rec := httptest.NewRecorder()
	dispatcher.HTTPHandler(d).ServeHTTP(rec, req)

	assert.Equal(t, 405, rec.Code)
	assert.Equal(t, "GET", rec.Header().Get("Allow"))
}
