package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/pg-executor/internal/domain"
)

// ExecutorJobRepository is CRUD over the executor_scheduled_job audit table.
// Only the current leader writes; readers on other nodes may observe stale
// rows but never a row for a job not owned by the observed leader's
// instance id.
type ExecutorJobRepository interface {
	EnsureTable(ctx context.Context) error

	Insert(ctx context.Context, entry *domain.ExecutorJobEntry) error
	ExistsByName(ctx context.Context, name string) (bool, error)
	DeleteByName(ctx context.Context, name string) error
	DeleteByNameSuffix(ctx context.Context, suffix string) (int64, error)
	DeleteAll(ctx context.Context) error

	// MarkStarted records a tick: when the job last fired and when it fires
	// next.
	MarkStarted(ctx context.Context, name string, startedAt, nextFireAt time.Time) error

	FetchExecutorJobEntries(ctx context.Context, offset, limit int) ([]*domain.ExecutorJobEntry, error)
	TotalExecutorJobEntries(ctx context.Context) (int64, error)
}
