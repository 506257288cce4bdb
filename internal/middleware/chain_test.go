package middleware_test

import (
	"context"
	"testing"
	"time"

	"github.com/brrtrouter/brrtrouter/internal/handler"
	"github.com/brrtrouter/brrtrouter/internal/middleware"
	"github.com/stretchr/testify/assert"
)

type recordingMiddleware struct {
	name      string
	shortCirc bool
	beforeLog *[]string
	afterLog  *[]string
}

func (m *recordingMiddleware) Before(_ context.Context, _ *handler.Request) (*handler.Response, bool) {
	*m.beforeLog = append(*m.beforeLog, m.name)
	if m.shortCirc {
		return handler.JSONResponse(403, nil), false
	}
	return nil, true
}

func (m *recordingMiddleware) After(_ context.Context, _ *handler.Request, _ *handler.Response, _ time.Duration) {
	*m.afterLog = append(*m.afterLog, m.name)
}

func TestChain_RunsBeforeInOrderAndAfterInReverse(t *testing.T) {
	var before, after []string
	a := &recordingMiddleware{name: "a", beforeLog: &before, afterLog: &after}
	b := &recordingMiddleware{name: "b", beforeLog: &before, afterLog: &after}
	chain := middleware.NewChain(a, b)

	req := &handler.Request{Context: context.Background()}
	resp, ran := chain.Before(context.Background(), req)
	assert.Nil(t, resp)
	assert.Equal(t, 2, ran)
	assert.Equal(t, []string{"a", "b"}, before)

	chain.After(context.Background(), req, handler.JSONResponse(200, nil), time.Millisecond, ran)
	assert.Equal(t, []string{"b", "a"}, after)
}

func TestChain_ShortCircuitStopsRemainingBeforeAndOnlyUnwindsRun(t *testing.T) {
	var before, after []string
	a := &recordingMiddleware{name: "a", beforeLog: &before, afterLog: &after}
	b := &recordingMiddleware{name: "b", shortCirc: true, beforeLog: &before, afterLog: &after}
	c := &recordingMiddleware{name: "c", beforeLog: &before, afterLog: &after}
	chain := middleware.NewChain(a, b, c)

	req := &handler.Request{Context: context.Background()}
	resp, ran := chain.Before(context.Background(), req)
	assert.NotNil(t, resp)
	assert.Equal(t, 2, ran)
	assert.Equal(t, []string{"a", "b"}, before, "c's Before should never run")

	chain.After(context.Background(), req, resp, time.Millisecond, ran)
	assert.Equal(t, []string{"b", "a"}, after, "only a and b ran, in reverse")
}

func TestChain_Len(t *testing.T) {
	chain := middleware.NewChain(&recordingMiddleware{}, &recordingMiddleware{})
	assert.Equal(t, 2, chain.Len())
}
