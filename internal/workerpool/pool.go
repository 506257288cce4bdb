// Package workerpool implements a per-operation bounded task queue: a
// fixed number of goroutines drain a bounded channel of jobs, one
// invocation per accepted request, with Block or Shed backpressure and a
// panic guard that keeps a worker alive across a handler crash.
//
// Built around a goroutine-plus-channel dispatch shape (Start/Stop
// lifecycle, a single background loop draining work), generalized from one
// executor per process into one Pool per operation, configured by
// num_workers / queue_bound / backpressure_mode / block_timeout.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brrtrouter/brrtrouter/internal/config"
	"github.com/brrtrouter/brrtrouter/internal/handler"
)

// Invoke runs one handler to completion. Pool never calls it directly from
// Submit's goroutine; it always runs on a worker goroutine, under the panic
// guard.
type Invoke func(ctx context.Context, req *handler.Request) *handler.Response

// Metrics is an atomic snapshot of a Pool's counters, fed to C10.
type Metrics struct {
	QueueDepth int
	Dispatched int64
	Completed  int64
	Shed       int64
}

// Pool is one bounded worker group for a single operation (HandlerName).
// stack_size has no Go equivalent (goroutine stacks grow dynamically); it is
// retained on the config, and Pool does not read it.
type Pool struct {
	handlerName  string
	jobs         chan *handler.Request
	invoke       Invoke
	mode         config.BackpressureMode
	blockTimeout time.Duration

	dispatched int64
	completed  int64
	shed       int64

	wg     sync.WaitGroup
	closed chan struct{}
}

// New starts numWorkers goroutines draining a channel bounded to
// queueBound, invoking fn for each accepted Request.
func New(handlerName string, cfg config.RuntimeConfig, fn Invoke) *Pool {
	numWorkers := cfg.HandlerWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	queueBound := cfg.HandlerQueueBound
	if queueBound < 1 {
		queueBound = 1
	}

	p := &Pool{
		handlerName:  handlerName,
		jobs:         make(chan *handler.Request, queueBound),
		invoke:       fn,
		mode:         cfg.BackpressureMode,
		blockTimeout: cfg.BackpressureTimeout,
		closed:       make(chan struct{}),
	}

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for req := range p.jobs {
		resp := p.invokeSafely(req)
		atomic.AddInt64(&p.completed, 1)
		req.Reply <- resp
	}
}

// invokeSafely runs p.invoke under a panic guard so a misbehaving handler
// never takes the worker goroutine down with it: a panic still produces
// exactly one Response on req.Reply.
func (p *Pool) invokeSafely(req *handler.Request) (resp *handler.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = handler.JSONResponse(500, map[string]string{
				"error": fmt.Sprintf("handler panic: %v", r),
			})
		}
	}()
	return p.invoke(req.Context, req)
}

// Submit enqueues req and blocks until the worker's reply arrives, a
// backpressure rejection fires, or ctx is cancelled. req.Reply is created
// here if the caller left it nil.
func (p *Pool) Submit(ctx context.Context, req *handler.Request) *handler.Response {
	if req.Reply == nil {
		req.Reply = make(chan *handler.Response, 1)
	}

	if err := p.enqueue(ctx, req); err != nil {
		return err
	}

	select {
	case resp := <-req.Reply:
		return resp
	case <-ctx.Done():
		return handler.JSONResponse(503, map[string]string{"error": "request cancelled"})
	}
}

// enqueue places req on the job channel per the pool's backpressure mode,
// returning a non-nil Response only when the request was rejected rather
// than accepted.
func (p *Pool) enqueue(ctx context.Context, req *handler.Request) *handler.Response {
	switch p.mode {
	case config.BackpressureShed:
		select {
		case p.jobs <- req:
			atomic.AddInt64(&p.dispatched, 1)
			return nil
		default:
			atomic.AddInt64(&p.shed, 1)
			return handler.JSONResponse(503, map[string]string{"error": "handler pool at capacity"})
		}
	default: // BackpressureBlock
		timer := time.NewTimer(p.blockTimeout)
		defer timer.Stop()
		select {
		case p.jobs <- req:
			atomic.AddInt64(&p.dispatched, 1)
			return nil
		case <-timer.C:
			atomic.AddInt64(&p.shed, 1)
			return handler.JSONResponse(429, map[string]string{"error": "handler pool enqueue timed out"})
		case <-ctx.Done():
			return handler.JSONResponse(503, map[string]string{"error": "request cancelled"})
		}
	}
}

// Metrics returns a point-in-time snapshot of the pool's counters.
// Dispatched >= Completed always holds; Shed only ever increases.
func (p *Pool) Metrics() Metrics {
	return Metrics{
		QueueDepth: len(p.jobs),
		Dispatched: atomic.LoadInt64(&p.dispatched),
		Completed:  atomic.LoadInt64(&p.completed),
		Shed:       atomic.LoadInt64(&p.shed),
	}
}

// HandlerName returns the operation this pool serves.
func (p *Pool) HandlerName() string { return p.handlerName }

// Close stops accepting new work and waits for in-flight jobs to finish.
// The caller must not call Submit concurrently with Close.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
	close(p.closed)
}
