// Package handler defines the request/response shapes that flow through the
// dispatch pipeline (internal/dispatcher, internal/workerpool,
// internal/middleware). It is deliberately dependency-free so all three can
// import it without creating an import cycle.
//
// Grounded on the Handler Request / Handler Response data shapes and the
// field-for-field struct literals built in
// original_source/tests/dispatcher_tests.rs (method, path, handler_name,
// path_params, query_params, body, reply_tx/rx).
package handler

import (
	"context"
	"io"
	"time"
)

// BodyKind tags which variant of Response.Body is populated, mirroring
// original_source/src/sse.rs's channel-based SSE framing alongside the
// ordinary JSON/bytes bodies.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyJSON
	BodyBytes
	BodySSE
)

// Claims carries the outcome of a successful security.Registry.Authorize
// call forward into the handler as optional authenticated claims.
type Claims struct {
	Subject string
	Scopes  []string
}

// Request is the Handler Request: everything a handler needs to process
// one call, plus the single-use reply channel the worker pool uses to
// deliver exactly one Response.
type Request struct {
	ID          string // 128-bit ULID, see internal/reqid
	Method      string
	Path        string // the matched path pattern, not the raw request path
	HandlerName string

	PathParams  map[string]string // raw captured {name} bindings, one string each
	QueryParams map[string]string // raw query values, first value only (convenience for middleware)
	Header      map[string]string
	Cookie      map[string]string

	// RawQuery is the full, possibly multi-valued query string, the input
	// to internal/paramdecode for styles that repeat a key (explode=true
	// arrays) or that need every value to reconstruct an object.
	RawQuery map[string][]string

	// Params holds the typed values internal/paramdecode produces for
	// every path/query/header/cookie Parameter Descriptor on the matched
	// route, keyed by parameter name. Populated by the dispatcher at
	// step 5; empty for handlers with no declared parameters.
	Params map[string]any

	// BodyReader is the unread request body, closed and consumed by the
	// dispatcher's bounded read at step 6. nil for bodyless requests.
	BodyReader    io.ReadCloser
	ContentLength int64

	Body    any // decoded JSON value; nil if the operation has no request body
	RawBody []byte

	Claims *Claims

	// PendingHeaders lets a Before hook (CORS, in practice) attach headers
	// that must land on whatever Response eventually ships, including one
	// produced by the handler itself. CORS's After hook merges these into
	// the final Response.Header after the worker pool returns.
	PendingHeaders map[string]string

	Context context.Context

	// Reply is the single-use channel the worker pool's invocation sends
	// exactly one Response on. Middleware and the dispatcher never send on
	// it directly; only an internal/workerpool Pool worker does.
	Reply chan *Response
}

// Response is the Handler Response.
type Response struct {
	Status int
	Header map[string]string

	BodyKind BodyKind
	JSON     any
	Bytes    []byte
	// SSE is a bounded channel of pre-framed "data: ...\n\n" event strings.
	// The dispatcher drains it only after the handler goroutine returns.
	SSE <-chan string

	// Latency is filled in by the dispatcher after the worker pool
	// returns, for the After half of the middleware chain and for C10.
	Latency time.Duration
}

// JSONResponse builds a Response with the given status and a JSON body.
func JSONResponse(status int, body any) *Response {
	return &Response{Status: status, BodyKind: BodyJSON, JSON: body}
}

// BytesResponse builds a Response carrying an opaque byte body.
func BytesResponse(status int, contentType string, body []byte) *Response {
	return &Response{
		Status:   status,
		Header:   map[string]string{"Content-Type": contentType},
		BodyKind: BodyBytes,
		Bytes:    body,
	}
}

// SSEResponse builds a streaming Response backed by a pre-framed event channel.
func SSEResponse(events <-chan string) *Response {
	return &Response{
		Status:   200,
		Header:   map[string]string{"Content-Type": "text/event-stream"},
		BodyKind: BodySSE,
		SSE:      events,
	}
}
