// Package dispatcher implements the end-to-end request path: ULID
// assignment, router match, middleware before chain, parameter decode,
// bounded body read, request validation, worker-pool enqueue, response
// validation, middleware after chain.
//
// Grounded on original_source/src/dispatcher/mod.rs's Dispatcher (a
// handler-name -> mailbox-sender map) and tests/dispatcher_tests.rs's
// HandlerRequest construction, generalized from the Rust green-thread
// mailbox model into internal/workerpool's goroutine pools.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brrtrouter/brrtrouter/internal/apierror"
	"github.com/brrtrouter/brrtrouter/internal/config"
	"github.com/brrtrouter/brrtrouter/internal/handler"
	"github.com/brrtrouter/brrtrouter/internal/middleware"
	"github.com/brrtrouter/brrtrouter/internal/paramdecode"
	"github.com/brrtrouter/brrtrouter/internal/reqid"
	"github.com/brrtrouter/brrtrouter/internal/routing"
	"github.com/brrtrouter/brrtrouter/internal/spec"
	"github.com/brrtrouter/brrtrouter/internal/validator"
	"github.com/brrtrouter/brrtrouter/internal/workerpool"
)

// HandlerFunc is user-supplied business logic for one operation, keyed by
// its RouteDescriptor.HandlerName. It always runs on a worker-pool
// goroutine, under that pool's panic guard.
type HandlerFunc func(ctx context.Context, req *handler.Request) *handler.Response

// PoolFactory builds the worker pool backing one handler name. Tests and
// internal/reload can substitute this to observe or constrain pool
// construction; the zero value defaults to workerpool.New.
type PoolFactory func(handlerName string, cfg config.RuntimeConfig, invoke workerpool.Invoke) *workerpool.Pool

func defaultPoolFactory(name string, cfg config.RuntimeConfig, invoke workerpool.Invoke) *workerpool.Pool {
	return workerpool.New(name, cfg, invoke)
}

// Dispatcher owns the compiled route table, one worker pool per handler
// name, the middleware chain, and the validator cache, and implements
// Handle as the single entry point for both HTTPHandler and direct callers
// (e.g. tests, a future non-HTTP transport).
type Dispatcher struct {
	tablePtr atomic.Pointer[routing.Table]

	poolsMu sync.RWMutex
	pools   map[string]*workerpool.Pool

	chain       *middleware.Chain
	validators  *validator.Cache
	cfg         config.RuntimeConfig
	poolFactory PoolFactory

	logger *slog.Logger
}

// New builds a Dispatcher over routes/table/handlers and starts one worker
// pool per distinct HandlerName found in routes. A nil factory defaults to
// workerpool.New; a nil logger defaults to slog.Default().
func New(
	routes []spec.RouteDescriptor,
	table *routing.Table,
	handlers map[string]HandlerFunc,
	chain *middleware.Chain,
	validators *validator.Cache,
	cfg config.RuntimeConfig,
	factory PoolFactory,
	logger *slog.Logger,
) *Dispatcher {
	if factory == nil {
		factory = defaultPoolFactory
	}
	if logger == nil {
		logger = slog.Default()
	}
	if chain == nil {
		chain = middleware.NewChain()
	}

	d := &Dispatcher{
		chain:       chain,
		validators:  validators,
		cfg:         cfg,
		poolFactory: factory,
		logger:      logger,
	}
	d.tablePtr.Store(table)
	d.pools = buildPools(routes, handlers, cfg, factory)
	return d
}

func buildPools(routes []spec.RouteDescriptor, handlers map[string]HandlerFunc, cfg config.RuntimeConfig, factory PoolFactory) map[string]*workerpool.Pool {
	pools := make(map[string]*workerpool.Pool)
	for _, r := range routes {
		name := r.HandlerName
		if _, ok := pools[name]; ok {
			continue
		}
		pools[name] = factory(name, cfg, invokeOrNotImplemented(name, handlers[name]))
	}
	return pools
}

func invokeOrNotImplemented(name string, fn HandlerFunc) workerpool.Invoke {
	return func(ctx context.Context, req *handler.Request) *handler.Response {
		if fn == nil {
			return handler.JSONResponse(501, map[string]string{"error": "handler not implemented: " + name})
		}
		return fn(ctx, req)
	}
}

// Swap atomically replaces the route table and the handler-pool map:
// pools for handler names present in both the old and new route set are
// kept as-is (in-flight work isn't disturbed), pools for vanished handler
// names are closed, pools for new handler names are created via
// poolFactory. The validator cache is cleared last so the next request
// recompiles against the fresh schemas.
func (d *Dispatcher) Swap(routes []spec.RouteDescriptor, table *routing.Table, handlers map[string]HandlerFunc) {
	d.poolsMu.Lock()
	defer d.poolsMu.Unlock()

	wanted := make(map[string]bool, len(routes))
	next := make(map[string]*workerpool.Pool, len(routes))
	for _, r := range routes {
		name := r.HandlerName
		if wanted[name] {
			continue
		}
		wanted[name] = true
		if p, ok := d.pools[name]; ok {
			next[name] = p
			continue
		}
		next[name] = d.poolFactory(name, d.cfg, invokeOrNotImplemented(name, handlers[name]))
	}
	for name, p := range d.pools {
		if !wanted[name] {
			p.Close()
		}
	}

	d.pools = next
	d.tablePtr.Store(table)
	d.validators.Clear()
}

func (d *Dispatcher) poolFor(name string) *workerpool.Pool {
	d.poolsMu.RLock()
	defer d.poolsMu.RUnlock()
	return d.pools[name]
}

// Handle runs req through the full dispatch pipeline and always returns a
// non-nil Response; it never panics (every fallible step below returns an
// apierror-backed Response instead) and the worker pool's own panic guard
// isolates a crashing handler from the dispatch goroutine.
func (d *Dispatcher) Handle(ctx context.Context, req *handler.Request) (resp *handler.Response) {
	start := time.Now()
	req.ID = reqid.FromHeaderOrNew(req.Header["X-Request-Id"])

	defer func() {
		if r := recover(); r != nil {
			resp = d.errorResponse(apierror.Internal("dispatch panic: %v", r), req.ID)
		}
		resp.Latency = time.Since(start)
	}()

	table := d.tablePtr.Load()
	rawPath := req.Path

	route, params, err := table.Match(req.Method, rawPath)
	if err != nil {
		var mm *routing.ErrMethodMismatch
		if errors.As(err, &mm) {
			// A CORS preflight (OPTIONS) never appears as a declared route
			// method, so it always looks like a mismatch here. Give the
			// chain a chance to short-circuit it (CORS.Before returns 204)
			// before falling back to 405.
			if req.Method == http.MethodOptions {
				if before, ran := d.chain.Before(ctx, req); before != nil {
					return d.finish(ctx, req, nil, ran, before, start)
				}
			}
			return d.finish(ctx, req, nil, 0, d.errorResponse(apierror.MethodNotAllowed(mm.Allowed), req.ID), start)
		}
	}
	if route == nil {
		return d.finish(ctx, req, nil, 0, d.errorResponse(apierror.NotFound("no route for %s %s", req.Method, rawPath), req.ID), start)
	}

	req.HandlerName = route.HandlerName
	req.Path = route.PathPattern
	if req.PathParams == nil {
		req.PathParams = make(map[string]string, len(params))
	}
	for _, p := range params {
		req.PathParams[p.Name] = p.Value
	}

	before, ran := d.chain.Before(ctx, req)
	if before != nil {
		return d.finish(ctx, req, route, ran, before, start)
	}

	resp = d.dispatchCore(ctx, req, route)
	return d.finish(ctx, req, route, ran, resp, start)
}

// finish runs the after chain (reverse order, only for middlewares that
// actually ran) and returns resp, whether or not the request
// short-circuited earlier.
func (d *Dispatcher) finish(ctx context.Context, req *handler.Request, route *spec.RouteDescriptor, ran int, resp *handler.Response, start time.Time) *handler.Response {
	elapsed := time.Since(start)
	resp.Latency = elapsed
	d.chain.After(ctx, req, resp, elapsed, ran)
	return resp
}

// dispatchCore runs parameter decode, bounded body read, request
// validation, worker-pool enqueue/await, and response validation.
func (d *Dispatcher) dispatchCore(ctx context.Context, req *handler.Request, route *spec.RouteDescriptor) *handler.Response {
	if err := d.decodeParams(req, route); err != nil {
		return d.errorResponse(apierror.BadRequest("%v", err), req.ID)
	}

	if err := d.readBody(req, route); err != nil {
		return d.errorResponse(apierror.BadRequest("%v", err), req.ID)
	}

	if len(route.RequestSchema) > 0 && req.Body != nil {
		if err := d.validateRequest(route, req.Body); err != nil {
			return d.errorResponse(apierror.BadRequest("request body failed schema validation: %v", err), req.ID)
		}
	}

	pool := d.poolFor(route.HandlerName)
	if pool == nil {
		return d.errorResponse(apierror.Internal("no worker pool registered for handler %s", route.HandlerName), req.ID)
	}

	resp := pool.Submit(ctx, req)
	if resp == nil {
		return d.errorResponse(apierror.Internal("worker pool returned no response"), req.ID)
	}

	d.validateResponse(route, resp)
	return resp
}

func (d *Dispatcher) decodeParams(req *handler.Request, route *spec.RouteDescriptor) error {
	if len(route.Parameters) == 0 {
		return nil
	}
	if req.Params == nil {
		req.Params = make(map[string]any, len(route.Parameters))
	}
	for _, p := range route.Parameters {
		var raw []string
		switch p.Location {
		case spec.ParameterInPath:
			if v, ok := req.PathParams[p.Name]; ok {
				raw = []string{v}
			}
		case spec.ParameterInQuery:
			raw = req.RawQuery[p.Name]
		case spec.ParameterInHeader:
			if v, ok := req.Header[p.Name]; ok {
				raw = []string{v}
			}
		case spec.ParameterInCookie:
			if v, ok := req.Cookie[p.Name]; ok {
				raw = []string{v}
			}
		}

		val, err := paramdecode.Decode(p, raw)
		if err != nil {
			return fmt.Errorf("decode parameter %q: %w", p.Name, err)
		}
		if val != nil {
			req.Params[p.Name] = val
		}
	}
	return nil
}

// readBody reads at most min(ContentLength, route.EstimatedRequestBytes,
// MaxRequestBodyBytes) bytes, then parses the result as JSON when
// Content-Type says so.
func (d *Dispatcher) readBody(req *handler.Request, route *spec.RouteDescriptor) error {
	if req.BodyReader == nil {
		if route.RequestBodyRequired {
			return errors.New("request body required")
		}
		return nil
	}
	defer req.BodyReader.Close()

	limit := d.cfg.MaxRequestBodyBytes
	if route.EstimatedRequestBytes > 0 && int64(route.EstimatedRequestBytes) < limit {
		limit = int64(route.EstimatedRequestBytes)
	}
	if req.ContentLength > 0 && req.ContentLength < limit {
		limit = req.ContentLength
	}

	raw, err := io.ReadAll(io.LimitReader(req.BodyReader, limit+1))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if int64(len(raw)) > limit {
		return fmt.Errorf("request body exceeds %d byte limit", limit)
	}
	req.RawBody = raw

	if len(raw) == 0 {
		if route.RequestBodyRequired {
			return errors.New("request body required")
		}
		return nil
	}

	if ct := req.Header["Content-Type"]; strings.HasPrefix(ct, "application/json") {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("parse request body as JSON: %w", err)
		}
		req.Body = v
	}
	return nil
}

func (d *Dispatcher) validateRequest(route *spec.RouteDescriptor, body any) error {
	schema, err := d.validators.GetOrCompile(validator.Key{
		Handler:   route.HandlerName,
		Direction: validator.DirectionRequest,
	}, route.RequestSchema)
	if err != nil {
		return fmt.Errorf("compile request schema: %w", err)
	}
	return validator.Validate(schema, body)
}

// validateResponse checks a JSON response body against its route's schema:
// strict mode turns a violation into a 500 (observed by the Metrics
// middleware's After hook, which still runs against the rewritten
// response); lax mode (the default) only logs.
func (d *Dispatcher) validateResponse(route *spec.RouteDescriptor, resp *handler.Response) {
	if resp == nil || resp.BodyKind != handler.BodyJSON {
		return
	}
	statusSchemas, ok := route.Responses[resp.Status]
	if !ok {
		return
	}
	var schema json.RawMessage
	for _, rd := range statusSchemas {
		schema = rd.Schema
		break
	}
	if len(schema) == 0 {
		return
	}

	compiled, err := d.validators.GetOrCompile(validator.Key{
		Handler:   route.HandlerName,
		Direction: validator.DirectionResponse,
		Status:    resp.Status,
	}, schema)
	if err != nil {
		d.logger.Warn("response schema failed to compile", "handler", route.HandlerName, "status", resp.Status, "error", err)
		return
	}

	if err := validator.Validate(compiled, resp.JSON); err != nil {
		if d.cfg.StrictResponseValidation {
			d.logger.Error("response body failed schema validation", "handler", route.HandlerName, "status", resp.Status, "error", err)
			*resp = *handler.JSONResponse(500, apierror.Internal("response failed schema validation").ToEnvelope(""))
			return
		}
		d.logger.Warn("response body failed schema validation", "handler", route.HandlerName, "status", resp.Status, "error", err)
	}
}

func (d *Dispatcher) errorResponse(e *apierror.Error, requestID string) *handler.Response {
	resp := handler.JSONResponse(e.Kind.Status(), e.ToEnvelope(requestID))
	if len(e.Allow) > 0 {
		resp.Header = map[string]string{"Allow": strings.Join(e.Allow, ", ")}
	}
	return resp
}

