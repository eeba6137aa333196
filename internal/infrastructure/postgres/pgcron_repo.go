package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ErlanBelekov/pg-executor/internal/domain"
	"github.com/ErlanBelekov/pg-executor/internal/identifier"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgCronRepository is data access over the cron extension schema.
type PgCronRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPgCronRepository(pool *pgxpool.Pool, logger *slog.Logger) *PgCronRepository {
	return &PgCronRepository{pool: pool, logger: logger.With("component", "pgcron_repo")}
}

func (r *PgCronRepository) ExtensionExists(ctx context.Context) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'pg_cron')`,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pg_cron extension: %w", err)
	}
	return exists, nil
}

func (r *PgCronRepository) Schedule(ctx context.Context, job *domain.PgCronJob) (int64, error) {
	command, err := buildFunctionCallCommand(domain.FunctionCall{
		FunctionName: job.FunctionName,
		Args:         job.Args,
	})
	if err != nil {
		return 0, err
	}
	return r.ScheduleRaw(ctx, job.Name, job.CronExpression, command)
}

func (r *PgCronRepository) ScheduleRaw(ctx context.Context, jobName, cronExpression, command string) (int64, error) {
	var jobID int64
	err := r.pool.QueryRow(ctx,
		`SELECT cron.schedule($1, $2, $3)`,
		jobName, cronExpression, command,
	).Scan(&jobID)
	if err != nil {
		return 0, fmt.Errorf("cron.schedule %q: %w", jobName, err)
	}
	return jobID, nil
}

func (r *PgCronRepository) Unschedule(ctx context.Context, jobID int64) error {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT cron.unschedule($1)`, jobID).Scan(&ok)
	if err != nil {
		return fmt.Errorf("cron.unschedule %d: %w", jobID, err)
	}
	return nil
}

func (r *PgCronRepository) FindJobID(ctx context.Context, jobName string) (*int64, error) {
	var jobID int64
	err := r.pool.QueryRow(ctx,
		`SELECT jobid FROM cron.job WHERE jobname = $1`,
		jobName,
	).Scan(&jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find cron job %q: %w", jobName, err)
	}
	return &jobID, nil
}

func (r *PgCronRepository) DeleteJobsByNameSuffix(ctx context.Context, suffix string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM cron.job WHERE jobname LIKE '%' || $1`,
		suffix,
	)
	if err != nil {
		return 0, fmt.Errorf("delete cron jobs by suffix %q: %w", suffix, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgCronRepository) FetchCronJobs(ctx context.Context, offset, limit int) ([]*domain.CronJobEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT jobid, COALESCE(jobname, ''), schedule, command, active
		FROM cron.job
		ORDER BY jobid
		OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch cron jobs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.CronJobEntry
	for rows.Next() {
		var e domain.CronJobEntry
		if err := rows.Scan(&e.JobID, &e.JobName, &e.Schedule, &e.Command, &e.Active); err != nil {
			return nil, fmt.Errorf("scan cron job: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (r *PgCronRepository) FetchCronJobRunDetails(ctx context.Context, offset, limit int) ([]*domain.CronJobRunDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.jobid, d.runid, COALESCE(j.jobname, ''), d.command,
		       d.status, COALESCE(d.return_message, ''), d.start_time, d.end_time
		FROM cron.job_run_details d
		LEFT JOIN cron.job j ON j.jobid = d.jobid
		ORDER BY d.runid DESC
		OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch cron job run details: %w", err)
	}
	defer rows.Close()

	var details []*domain.CronJobRunDetail
	for rows.Next() {
		var d domain.CronJobRunDetail
		if err := rows.Scan(&d.JobID, &d.RunID, &d.JobName, &d.Command,
			&d.Status, &d.ReturnMessage, &d.StartTime, &d.EndTime); err != nil {
			return nil, fmt.Errorf("scan cron job run detail: %w", err)
		}
		details = append(details, &d)
	}
	return details, rows.Err()
}

// buildFunctionCallCommand renders `SELECT fn(args...)`. The cron command is
// a plain string on the server side, so args cannot be bound as parameters;
// they are rendered as SQL literals instead, and the function name must pass
// identifier validation before being inlined.
func buildFunctionCallCommand(call domain.FunctionCall) (string, error) {
	if !identifier.IsValidFunctionName(call.FunctionName) {
		return "", fmt.Errorf("function name %q is not a valid identifier", call.FunctionName)
	}

	rendered := make([]string, len(call.Args))
	for i, arg := range call.Args {
		lit, err := renderLiteral(arg)
		if err != nil {
			return "", fmt.Errorf("argument %d of %s: %w", i, call.FunctionName, err)
		}
		rendered[i] = lit
	}

	return fmt.Sprintf("SELECT %s(%s)", strings.TrimSpace(call.FunctionName), strings.Join(rendered, ", ")), nil
}

func renderLiteral(arg any) (string, error) {
	switch v := arg.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported literal type %T", arg)
	}
}
