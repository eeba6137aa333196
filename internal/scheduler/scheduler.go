// Package scheduler dispatches recurring work across a cluster. Exactly one
// node — the holder of a fenced lock — schedules and runs jobs: cron jobs
// persisted through the pg_cron extension when it is available, and
// fixed-delay jobs run on an in-process timer pool and mirrored into the
// executor_scheduled_job table for cross-node observability. On failover the
// replacement leader re-installs every registered job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/pg-executor/internal/domain"
	"github.com/ErlanBelekov/pg-executor/internal/lock"
	"github.com/ErlanBelekov/pg-executor/internal/logctx"
	"github.com/ErlanBelekov/pg-executor/internal/metrics"
	"github.com/ErlanBelekov/pg-executor/internal/repository"
)

// Config carries the scheduler's object-structured configuration.
type Config struct {
	// LockName keys the leader election; all nodes of a cluster use the same
	// name.
	LockName string

	// Threads bounds how many in-process job ticks may execute concurrently.
	Threads int

	// IsExtensionNotLoaded classifies the pg_cron "not in
	// shared_preload_libraries" failure. Optional.
	IsExtensionNotLoaded func(error) bool

	// IsTransientIO classifies connection/IO faults; they are logged at
	// DEBUG instead of WARN. Optional.
	IsTransientIO func(error) bool
}

// JobSpec is a mode-selected scheduling request: a Cron configuration
// dispatches Call through pg_cron when available, anything else runs Task on
// the timer pool.
type JobSpec struct {
	Name     string
	Schedule domain.ScheduleConfiguration
	Call     *domain.FunctionCall
	Task     func(ctx context.Context) error
}

// Scheduler is the singleton-elected core. It is a Lifecycle object: jobs
// registered before Start are queued; jobs registered after are installed
// immediately when this node is leader.
type Scheduler struct {
	lockManager lock.FencedLockManager
	cronRepo    repository.PgCronRepository
	jobRepo     repository.ExecutorJobRepository
	logger      *slog.Logger
	cfg         Config
	instanceID  string

	mu              sync.Mutex
	started         bool
	pgCronAvailable bool
	pgCronJobs      []*domain.PgCronJob
	executorJobs    []*domain.ExecutorJob
	pendingSpecs    []JobSpec
	pgCronJobIDs    map[string]int64
	timers          map[string]*jobTimer

	lockAcquired atomic.Bool

	sem       chan struct{}
	events    chan bool
	runCtx    context.Context
	runCancel context.CancelFunc
	runDone   chan struct{}
}

type jobTimer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(lockManager lock.FencedLockManager, cronRepo repository.PgCronRepository, jobRepo repository.ExecutorJobRepository, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if cfg.LockName == "" {
		cfg.LockName = "pg-executor-scheduler"
	}
	return &Scheduler{
		lockManager:  lockManager,
		cronRepo:     cronRepo,
		jobRepo:      jobRepo,
		logger:       logger.With("component", "scheduler"),
		cfg:          cfg,
		instanceID:   InstanceID(),
		pgCronJobIDs: make(map[string]int64),
		timers:       make(map[string]*jobTimer),
	}
}

// InstanceID returns the suffix this node appends to every job name it
// installs.
func (s *Scheduler) InstanceID() string { return s.instanceID }

func (s *Scheduler) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// IsLeader reports whether this node currently holds the scheduler lock.
func (s *Scheduler) IsLeader() bool { return s.lockAcquired.Load() }

// PgCronAvailable reports the result of the start-time extension probe.
func (s *Scheduler) PgCronAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pgCronAvailable
}

// Start is idempotent. It probes pg_cron availability, purges residue rows
// bearing this node's instance id, then hands leader election to the lock
// manager. Probe failures are never fatal; availability falls back to false.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	available := s.probePgCron(ctx)

	if err := s.jobRepo.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure executor job table: %w", err)
	}
	s.purgeOwnResidue(ctx)

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.pgCronAvailable = available
	s.sem = make(chan struct{}, s.cfg.Threads)
	s.events = make(chan bool)
	s.runCtx = runCtx
	s.runCancel = cancel
	s.runDone = make(chan struct{})
	s.started = true
	pending := s.pendingSpecs
	s.pendingSpecs = nil
	s.mu.Unlock()

	metrics.PgCronAvailable.Set(boolToGauge(available))
	s.logger.Info("scheduler starting",
		"instance_id", s.instanceID,
		"lock", s.cfg.LockName,
		"pg_cron_available", available,
		"threads", s.cfg.Threads,
	)

	go s.run()

	s.lockManager.AcquireLockAsync(runCtx, s.cfg.LockName, lock.Callback{
		OnAcquired: func(string) {
			select {
			case s.events <- true:
			case <-runCtx.Done():
			}
		},
		OnReleased: func(string) {
			select {
			case s.events <- false:
			case <-runCtx.Done():
			}
		},
	})

	// Specs queued before start could not be mode-selected yet: the pg_cron
	// probe had not run.
	for i := range pending {
		if err := s.Schedule(ctx, pending[i]); err != nil {
			s.logger.Warn("queued job rejected at start", "job", pending[i].Name, "error", err)
		}
	}

	return nil
}

// Stop cancels leader election, repeats the unschedule/purge pass, and shuts
// the timer pool down interrupt-style. An in-progress tick may continue
// briefly, but its audit-table write is cut off with the timer context.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// Audit rows are advisory; clearing them while still leader is
	// documented behavior even though a successor may briefly observe an
	// empty table.
	if s.lockAcquired.Load() {
		if err := s.jobRepo.DeleteAll(ctx); err != nil {
			s.logAbsorbed("delete all executor job rows on stop", err)
		}
	}

	s.lockManager.CancelAsyncLockAcquiring(s.cfg.LockName)

	// Quiesce the sweep loop before tearing down, so a concurrent leader
	// sweep cannot re-install behind the purge.
	s.runCancel()
	<-s.runDone

	s.cancelAllTimers()
	s.unscheduleAllPgCronJobs(ctx)
	s.purgeOwnResidue(ctx)

	s.mu.Lock()
	s.started = false
	s.pendingSpecs = nil
	s.pgCronJobIDs = make(map[string]int64)
	s.timers = make(map[string]*jobTimer)
	s.mu.Unlock()
	s.lockAcquired.Store(false)
	metrics.SchedulerLeader.Set(0)

	s.logger.Info("scheduler stopped", "instance_id", s.instanceID)
	return nil
}

// Schedule registers a job under the mode-selection rules: Cron with pg_cron
// available installs through cron.schedule; Cron without pg_cron derives a
// fixed-delay fallback and runs in-process; FixedDelay always runs
// in-process. Before Start the spec is queued, since availability is unknown
// until the probe runs.
func (s *Scheduler) Schedule(ctx context.Context, spec JobSpec) error {
	s.mu.Lock()
	if !s.started {
		s.pendingSpecs = append(s.pendingSpecs, spec)
		s.mu.Unlock()
		return nil
	}
	available := s.pgCronAvailable
	s.mu.Unlock()

	switch sc := spec.Schedule.(type) {
	case domain.CronConfiguration:
		if available {
			if spec.Call == nil {
				return fmt.Errorf("job %q: cron scheduling requires a function call", spec.Name)
			}
			return s.ScheduleCronJob(ctx, &domain.PgCronJob{
				Name:           spec.Name,
				FunctionName:   spec.Call.FunctionName,
				Args:           spec.Call.Args,
				CronExpression: sc.Expression,
			})
		}
		fd, err := sc.AsFixedDelay()
		if err != nil {
			return fmt.Errorf("job %q: %w", spec.Name, err)
		}
		if spec.Task == nil {
			return fmt.Errorf("job %q: fixed-delay fallback requires a task", spec.Name)
		}
		s.logger.Warn("pg_cron unavailable, falling back to in-process scheduling",
			"job", spec.Name, "cron_expression", sc.Expression, "period", fd.Period)
		return s.ScheduleExecutorJob(ctx, &domain.ExecutorJob{
			Name:       spec.Name,
			FixedDelay: fd,
			Task:       spec.Task,
		})
	case domain.FixedDelayConfiguration:
		if spec.Task == nil {
			return fmt.Errorf("job %q: fixed-delay scheduling requires a task", spec.Name)
		}
		return s.ScheduleExecutorJob(ctx, &domain.ExecutorJob{
			Name:       spec.Name,
			FixedDelay: sc.FixedDelay,
			Task:       spec.Task,
		})
	default:
		return fmt.Errorf("job %q: unknown schedule configuration %T", spec.Name, spec.Schedule)
	}
}

// ScheduleCronJob registers a pg_cron job. When this node is leader with
// pg_cron available, the job installs immediately; otherwise it installs on
// the next onLockAcquired sweep, provided pg_cron is available. Without
// pg_cron the job stays registered but is never installed.
func (s *Scheduler) ScheduleCronJob(ctx context.Context, job *domain.PgCronJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	for _, existing := range s.pgCronJobs {
		if existing.Name == job.Name {
			s.mu.Unlock()
			return domain.ErrDuplicateJobName
		}
	}
	s.pgCronJobs = append(s.pgCronJobs, job)
	installNow := s.started && s.pgCronAvailable && s.lockAcquired.Load()
	s.mu.Unlock()

	if installNow {
		s.installPgCronJob(ctx, job)
	}
	return nil
}

// ScheduleExecutorJob registers an in-process fixed-delay job.
func (s *Scheduler) ScheduleExecutorJob(ctx context.Context, job *domain.ExecutorJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	for _, existing := range s.executorJobs {
		if existing.Name == job.Name {
			s.mu.Unlock()
			return domain.ErrDuplicateJobName
		}
	}
	s.executorJobs = append(s.executorJobs, job)
	installNow := s.started && s.lockAcquired.Load()
	runCtx := s.runCtx
	s.mu.Unlock()

	if installNow {
		s.installExecutorJob(runCtx, job)
	}
	return nil
}

// run linearizes lock callbacks onto a single consumer so leader sweeps and
// follower teardowns never interleave, regardless of which goroutine the
// lock manager delivers on.
func (s *Scheduler) run() {
	defer close(s.runDone)
	for {
		select {
		case <-s.runCtx.Done():
			return
		case acquired := <-s.events:
			if acquired {
				s.becomeLeader(s.runCtx)
			} else {
				s.becomeFollower(s.runCtx)
			}
		}
	}
}

// becomeLeader installs every registered job. Purging residue again here is
// intentional: a prior crash of this very node may have left rows behind
// that the start-time purge raced with.
func (s *Scheduler) becomeLeader(ctx context.Context) {
	s.logger.Info("lock acquired, installing jobs", "lock", s.cfg.LockName)
	s.purgeOwnResidue(ctx)

	s.mu.Lock()
	cronJobs := make([]*domain.PgCronJob, len(s.pgCronJobs))
	copy(cronJobs, s.pgCronJobs)
	executorJobs := make([]*domain.ExecutorJob, len(s.executorJobs))
	copy(executorJobs, s.executorJobs)
	available := s.pgCronAvailable
	s.mu.Unlock()

	if available {
		for _, job := range cronJobs {
			s.installPgCronJob(ctx, job)
		}
	}
	for _, job := range executorJobs {
		s.installExecutorJob(ctx, job)
	}

	// Set last: concurrent registrations before the flag flips are merely
	// queued for the next call, never double-installed.
	s.lockAcquired.Store(true)
	metrics.SchedulerLeader.Set(1)
}

func (s *Scheduler) becomeFollower(ctx context.Context) {
	s.logger.Info("lock released, tearing down jobs", "lock", s.cfg.LockName)

	s.cancelAllTimers()

	if _, err := s.jobRepo.DeleteByNameSuffix(ctx, s.instanceID); err != nil {
		s.logAbsorbed("delete executor job rows by instance id", err)
	}

	s.unscheduleAllPgCronJobs(ctx)

	if err := s.jobRepo.DeleteAll(ctx); err != nil {
		s.logAbsorbed("delete all executor job rows", err)
	}

	s.lockAcquired.Store(false)
	metrics.SchedulerLeader.Set(0)
}

// probePgCron checks that the extension is present and that a test
// schedule/unschedule round-trip succeeds without a not-loaded error.
func (s *Scheduler) probePgCron(ctx context.Context) bool {
	exists, err := s.cronRepo.ExtensionExists(ctx)
	if err != nil {
		s.logAbsorbed("probe pg_cron extension", err)
		return false
	}
	if !exists {
		return false
	}

	probeName := suffixedName("pg-cron-probe", s.instanceID)
	jobID, err := s.cronRepo.ScheduleRaw(ctx, probeName, "0 0 1 1 *", "SELECT 1")
	if err != nil {
		if s.cfg.IsExtensionNotLoaded != nil && s.cfg.IsExtensionNotLoaded(err) {
			s.logger.Info("pg_cron extension installed but not loaded via shared_preload_libraries")
		} else {
			s.logAbsorbed("probe pg_cron schedule", err)
		}
		return false
	}
	if err := s.cronRepo.Unschedule(ctx, jobID); err != nil {
		s.logAbsorbed("probe pg_cron unschedule", err)
	}
	return true
}

func (s *Scheduler) installPgCronJob(ctx context.Context, job *domain.PgCronJob) {
	name := suffixedName(job.Name, s.instanceID)

	if existing, err := s.cronRepo.FindJobID(ctx, name); err != nil {
		s.logAbsorbed("check existing cron job", err, "job", name)
		return
	} else if existing != nil {
		s.mu.Lock()
		s.pgCronJobIDs[name] = *existing
		s.mu.Unlock()
		return
	}

	suffixed := *job
	suffixed.Name = name
	jobID, err := s.cronRepo.Schedule(ctx, &suffixed)
	if err != nil {
		s.logAbsorbed("install pg_cron job", err, "job", name)
		return
	}

	s.mu.Lock()
	s.pgCronJobIDs[name] = jobID
	s.mu.Unlock()

	metrics.JobsInstalledTotal.WithLabelValues("pg_cron").Inc()
	s.logger.Info("pg_cron job installed", "job", name, "job_id", jobID, "cron_expression", job.CronExpression)
}

func (s *Scheduler) installExecutorJob(ctx context.Context, job *domain.ExecutorJob) {
	name := suffixedName(job.Name, s.instanceID)

	if exists, err := s.jobRepo.ExistsByName(ctx, name); err != nil {
		s.logAbsorbed("check existing executor job", err, "job", name)
		return
	} else if exists {
		return
	}

	s.mu.Lock()
	if _, running := s.timers[name]; running {
		s.mu.Unlock()
		return
	}
	timerCtx, cancel := context.WithCancel(ctx)
	t := &jobTimer{cancel: cancel, done: make(chan struct{})}
	s.timers[name] = t
	s.mu.Unlock()

	firstFire := time.Now().Add(job.FixedDelay.InitialDelay)
	if err := s.jobRepo.Insert(ctx, &domain.ExecutorJobEntry{
		Name:         name,
		Host:         s.instanceID,
		InitialDelay: job.FixedDelay.InitialDelay,
		Period:       job.FixedDelay.Period,
		NextFireAt:   &firstFire,
	}); err != nil {
		s.logAbsorbed("insert executor job row", err, "job", name)
	}

	go s.runTimer(timerCtx, t, name, job)

	metrics.JobsInstalledTotal.WithLabelValues("executor").Inc()
	s.logger.Info("executor job installed", "job", name,
		"initial_delay", job.FixedDelay.InitialDelay, "period", job.FixedDelay.Period)
}

// runTimer drives one job at fixed rate. Ticks of a single job are
// serialized; overruns queue behind the previous tick.
func (s *Scheduler) runTimer(ctx context.Context, t *jobTimer, name string, job *domain.ExecutorJob) {
	defer close(t.done)

	initial := time.NewTimer(job.FixedDelay.InitialDelay)
	defer initial.Stop()
	select {
	case <-ctx.Done():
		return
	case <-initial.C:
	}
	s.runTick(ctx, name, job)

	ticker := time.NewTicker(job.FixedDelay.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx, name, job)
		}
	}
}

// runTick executes one task invocation on the timer pool. Task failures are
// logged and swallowed so the next tick still runs.
func (s *Scheduler) runTick(ctx context.Context, name string, job *domain.ExecutorJob) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	// Anything the task logs through a context-aware handler carries the
	// job name.
	ctx = logctx.WithJob(ctx, name)

	startedAt := time.Now()
	if err := s.jobRepo.MarkStarted(ctx, name, startedAt, startedAt.Add(job.FixedDelay.Period)); err != nil {
		s.logAbsorbed("mark executor job started", err, "job", name)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.ErrorContext(ctx, "executor job panicked", "panic", r)
				metrics.ExecutorTaskFailuresTotal.Inc()
			}
		}()
		if err := job.Task(ctx); err != nil {
			s.logger.ErrorContext(ctx, "executor job failed", "error", err)
			metrics.ExecutorTaskFailuresTotal.Inc()
		}
	}()

	metrics.ExecutorTaskDuration.Observe(time.Since(startedAt).Seconds())
}

func (s *Scheduler) cancelAllTimers() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[string]*jobTimer)
	s.mu.Unlock()

	for _, t := range timers {
		t.cancel()
	}
}

func (s *Scheduler) unscheduleAllPgCronJobs(ctx context.Context) {
	s.mu.Lock()
	ids := s.pgCronJobIDs
	s.pgCronJobIDs = make(map[string]int64)
	s.mu.Unlock()

	for name, id := range ids {
		if err := s.cronRepo.Unschedule(ctx, id); err != nil {
			s.logAbsorbed("unschedule pg_cron job", err, "job", name, "job_id", id)
		}
	}
	// Belt and braces: ids can be lost on crash, the suffix cannot.
	if _, err := s.cronRepo.DeleteJobsByNameSuffix(ctx, s.instanceID); err != nil {
		s.logAbsorbed("delete cron jobs by instance id", err)
	}
}

func (s *Scheduler) purgeOwnResidue(ctx context.Context) {
	if n, err := s.cronRepo.DeleteJobsByNameSuffix(ctx, s.instanceID); err != nil {
		s.logAbsorbed("purge cron residue", err)
	} else if n > 0 {
		s.logger.Info("purged cron job residue", "rows", n)
	}
	if n, err := s.jobRepo.DeleteByNameSuffix(ctx, s.instanceID); err != nil {
		s.logAbsorbed("purge executor job residue", err)
	} else if n > 0 {
		s.logger.Info("purged executor job residue", "rows", n)
	}
}

// logAbsorbed records a background failure without escalating it: DEBUG for
// classified IO faults, WARN otherwise. The scheduler never crashes the
// process for a background failure.
func (s *Scheduler) logAbsorbed(msg string, err error, args ...any) {
	args = append(args, "error", err)
	if s.cfg.IsTransientIO != nil && s.cfg.IsTransientIO(err) {
		s.logger.Debug(msg, args...)
		return
	}
	s.logger.Warn(msg, args...)
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
