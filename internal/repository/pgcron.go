package repository

import (
	"context"

	"github.com/ErlanBelekov/pg-executor/internal/domain"
)

// PgCronRepository is thin data access over the pg_cron extension schema
// (cron.job, cron.job_run_details). All mutations are leader-gated by the
// scheduler; paged reads need no lock.
type PgCronRepository interface {
	// ExtensionExists reports whether the pg_cron extension is installed in
	// the connected database. It says nothing about shared_preload_libraries.
	ExtensionExists(ctx context.Context) (bool, error)

	// Schedule installs the job via cron.schedule and returns the job id.
	// The function name is validated before being rendered into the command.
	Schedule(ctx context.Context, job *domain.PgCronJob) (int64, error)

	// ScheduleRaw installs an arbitrary command; used for the availability
	// probe.
	ScheduleRaw(ctx context.Context, jobName, cronExpression, command string) (int64, error)

	// Unschedule removes the job by id. Best-effort.
	Unschedule(ctx context.Context, jobID int64) error

	// FindJobID returns the id of the named job, or nil when absent.
	FindJobID(ctx context.Context, jobName string) (*int64, error)

	// DeleteJobsByNameSuffix purges residue rows whose jobname ends with the
	// given instance id suffix. Returns the number of rows removed.
	DeleteJobsByNameSuffix(ctx context.Context, suffix string) (int64, error)

	FetchCronJobs(ctx context.Context, offset, limit int) ([]*domain.CronJobEntry, error)
	FetchCronJobRunDetails(ctx context.Context, offset, limit int) ([]*domain.CronJobRunDetail, error)
}
