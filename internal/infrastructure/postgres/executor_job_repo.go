package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/pg-executor/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExecutorJobRepository is CRUD over the executor_scheduled_job audit table.
type ExecutorJobRepository struct {
	pool *pgxpool.Pool
}

func NewExecutorJobRepository(pool *pgxpool.Pool) *ExecutorJobRepository {
	return &ExecutorJobRepository{pool: pool}
}

func (r *ExecutorJobRepository) EnsureTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS executor_scheduled_job (
			name             TEXT PRIMARY KEY,
			host             TEXT NOT NULL,
			initial_delay_ms BIGINT NOT NULL,
			period_ms        BIGINT NOT NULL,
			last_started_at  TIMESTAMPTZ,
			next_fire_at     TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure executor_scheduled_job: %w", err)
	}
	return nil
}

func (r *ExecutorJobRepository) Insert(ctx context.Context, entry *domain.ExecutorJobEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO executor_scheduled_job (name, host, initial_delay_ms, period_ms, next_fire_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET host = EXCLUDED.host,
		    initial_delay_ms = EXCLUDED.initial_delay_ms,
		    period_ms = EXCLUDED.period_ms,
		    next_fire_at = EXCLUDED.next_fire_at`,
		entry.Name, entry.Host,
		entry.InitialDelay.Milliseconds(), entry.Period.Milliseconds(),
		entry.NextFireAt,
	)
	if err != nil {
		return fmt.Errorf("insert executor job %q: %w", entry.Name, err)
	}
	return nil
}

func (r *ExecutorJobRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM executor_scheduled_job WHERE name = $1)`,
		name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("executor job exists %q: %w", name, err)
	}
	return exists, nil
}

func (r *ExecutorJobRepository) DeleteByName(ctx context.Context, name string) error {
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM executor_scheduled_job WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete executor job %q: %w", name, err)
	}
	return nil
}

func (r *ExecutorJobRepository) DeleteByNameSuffix(ctx context.Context, suffix string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM executor_scheduled_job WHERE name LIKE '%' || $1`, suffix)
	if err != nil {
		return 0, fmt.Errorf("delete executor jobs by suffix %q: %w", suffix, err)
	}
	return tag.RowsAffected(), nil
}

func (r *ExecutorJobRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM executor_scheduled_job`); err != nil {
		return fmt.Errorf("delete all executor jobs: %w", err)
	}
	return nil
}

func (r *ExecutorJobRepository) MarkStarted(ctx context.Context, name string, startedAt, nextFireAt time.Time) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE executor_scheduled_job
		SET last_started_at = $2, next_fire_at = $3
		WHERE name = $1`,
		name, startedAt, nextFireAt); err != nil {
		return fmt.Errorf("mark executor job started %q: %w", name, err)
	}
	return nil
}

func (r *ExecutorJobRepository) FetchExecutorJobEntries(ctx context.Context, offset, limit int) ([]*domain.ExecutorJobEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, host, initial_delay_ms, period_ms, last_started_at, next_fire_at, created_at
		FROM executor_scheduled_job
		ORDER BY name
		OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch executor jobs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ExecutorJobEntry
	for rows.Next() {
		var e domain.ExecutorJobEntry
		var initialMS, periodMS int64
		if err := rows.Scan(&e.Name, &e.Host, &initialMS, &periodMS,
			&e.LastStartedAt, &e.NextFireAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan executor job: %w", err)
		}
		e.InitialDelay = time.Duration(initialMS) * time.Millisecond
		e.Period = time.Duration(periodMS) * time.Millisecond
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (r *ExecutorJobRepository) TotalExecutorJobEntries(ctx context.Context) (int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM executor_scheduled_job`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count executor jobs: %w", err)
	}
	return total, nil
}
