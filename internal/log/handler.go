package log

import (
	"context"
	"log/slog"

	"github.com/ErlanBelekov/pg-executor/internal/logctx"
)

// Handler wraps an slog.Handler and stamps every record with the scheduler
// correlation identifiers carried in the context: the ops request id and the
// executor job name. A record logged from inside a job tick shows which job
// it belongs to without the call site threading the name through.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id := logctx.RequestID(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if job := logctx.Job(ctx); job != "" {
		r.AddAttrs(slog.String("executor_job", job))
	}
	return h.inner.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
