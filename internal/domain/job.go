package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ErlanBelekov/pg-executor/internal/identifier"
)

var (
	ErrDuplicateJobName = errors.New("a job with this name is already registered")
)

// FixedDelay describes an in-process schedule: first fire after InitialDelay,
// then every Period.
type FixedDelay struct {
	InitialDelay time.Duration
	Period       time.Duration
}

// FunctionCall is a SQL function invocation rendered into a pg_cron command.
// Args are rendered as SQL literals; only strings, int, int32, int64,
// float64, bools and nil are supported.
type FunctionCall struct {
	FunctionName string
	Args         []any
}

// PgCronJob is a recurring job persisted as a row in cron.job. Name is used
// as the cron.job.jobname with the owning node's instance id appended.
type PgCronJob struct {
	Name           string
	FunctionName   string
	Args           []any
	CronExpression string
}

// Validate rejects jobs whose name is empty or whose function name would be
// unsafe to inline into the cron command.
func (j *PgCronJob) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("pg_cron job name must not be empty")
	}
	if strings.TrimSpace(j.CronExpression) == "" {
		return errors.New("pg_cron job cron expression must not be empty")
	}
	if !identifier.IsValidFunctionName(j.FunctionName) {
		return errors.New("pg_cron job function name is not a valid identifier")
	}
	return nil
}

// ExecutorJob is a recurring in-process job run on the scheduler's timer
// pool. Task is an opaque effectful operation; errors it returns are logged
// and swallowed so the next tick still runs.
type ExecutorJob struct {
	Name       string
	FixedDelay FixedDelay
	Task       func(ctx context.Context) error
}

func (j *ExecutorJob) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("executor job name must not be empty")
	}
	if j.FixedDelay.Period <= 0 {
		return errors.New("executor job period must be positive")
	}
	if j.Task == nil {
		return errors.New("executor job task must not be nil")
	}
	return nil
}

// ExecutorJobEntry is the observability row kept in executor_scheduled_job
// for every live in-process job on the leader. Rows are advisory: readers on
// other nodes may see stale state.
type ExecutorJobEntry struct {
	Name          string
	Host          string
	InitialDelay  time.Duration
	Period        time.Duration
	LastStartedAt *time.Time
	NextFireAt    *time.Time
	CreatedAt     time.Time
}

// CronJobEntry mirrors a row of cron.job.
type CronJobEntry struct {
	JobID    int64
	JobName  string
	Schedule string
	Command  string
	Active   bool
}

// CronJobRunDetail mirrors a row of cron.job_run_details.
type CronJobRunDetail struct {
	JobID         int64
	RunID         int64
	JobName       string
	Command       string
	Status        string
	ReturnMessage string
	StartTime     *time.Time
	EndTime       *time.Time
}
