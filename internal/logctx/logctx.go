// Package logctx carries the identifiers log records are correlated by:
// the ops API request id and the executor job a tick runs for. Values travel
// on the context; the log handler lifts them into every record.
package logctx

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const (
	keyRequestID ctxKey = iota
	keyJob
)

// NewRequestID generates an ops request id: "req_" plus the first UUID
// block. Short enough to read in logs, unique enough for correlation.
func NewRequestID() string {
	raw := uuid.NewString()
	return "req_" + raw[:strings.Index(raw, "-")]
}

// WithRequestID returns a copy of ctx with the request id attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID extracts the request id from ctx. Returns "" if absent.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}

// WithJob returns a copy of ctx tagged with the suffixed name of the
// executor job whose tick is running.
func WithJob(ctx context.Context, jobName string) context.Context {
	return context.WithValue(ctx, keyJob, jobName)
}

// Job extracts the executor job name from ctx. Returns "" if absent.
func Job(ctx context.Context) string {
	name, _ := ctx.Value(keyJob).(string)
	return name
}
