package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/brrtrouter/brrtrouter/internal/handler"
	"github.com/google/uuid"
)

// Tracing stamps a span id and operation name on every request and emits a
// structured slog span on completion. No tracing library is wired in yet
// (a full OpenTelemetry stack was considered and rejected -- see
// DESIGN.md), so this is a documented no-op tracer: span correlation
// rides entirely on log attributes via slog.Group.
//
// The span id is a random UUID (not the request's ULID) because a single
// Handler Request can fan out into multiple spans once a real tracer is
// wired in.
type Tracing struct {
	logger *slog.Logger
}

// NewTracing builds a Tracing middleware. A nil logger defaults to slog.Default().
func NewTracing(logger *slog.Logger) *Tracing {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracing{logger: logger}
}

type spanIDKey struct{}

func (t *Tracing) Before(ctx context.Context, req *handler.Request) (*handler.Response, bool) {
	spanID := uuid.NewString()
	req.Context = context.WithValue(req.Context, spanIDKey{}, spanID)
	return nil, true
}

func (t *Tracing) After(ctx context.Context, req *handler.Request, resp *handler.Response, elapsed time.Duration) {
	spanID, _ := req.Context.Value(spanIDKey{}).(string)
	status := 0
	if resp != nil {
		status = resp.Status
	}
	t.logger.LogAttrs(ctx, slog.LevelInfo, "span completed", slog.Group("span",
		slog.String("id", spanID),
		slog.String("request_id", req.ID),
		slog.String("operation", req.HandlerName),
		slog.Int("status", status),
		slog.String("duration", elapsed.String()),
	))
}
