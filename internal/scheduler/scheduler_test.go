package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/pg-executor/internal/domain"
	"github.com/ErlanBelekov/pg-executor/internal/lock"
	"github.com/ErlanBelekov/pg-executor/internal/scheduler"
)

// ---- fakes ----

type fakeLockManager struct {
	mu       sync.Mutex
	callback lock.Callback
	cancels  int
}

func (l *fakeLockManager) AcquireLockAsync(_ context.Context, _ string, cb lock.Callback) {
	l.mu.Lock()
	l.callback = cb
	l.mu.Unlock()
}

func (l *fakeLockManager) CancelAsyncLockAcquiring(string) {
	l.mu.Lock()
	l.cancels++
	l.mu.Unlock()
}

func (l *fakeLockManager) acquire() {
	l.mu.Lock()
	cb := l.callback
	l.mu.Unlock()
	if cb.OnAcquired != nil {
		cb.OnAcquired("lock")
	}
}

func (l *fakeLockManager) release() {
	l.mu.Lock()
	cb := l.callback
	l.mu.Unlock()
	if cb.OnReleased != nil {
		cb.OnReleased("lock")
	}
}

type fakeCronRepo struct {
	mu        sync.Mutex
	extension bool
	nextID    int64
	jobs      map[int64]string
}

func newFakeCronRepo(extension bool) *fakeCronRepo {
	return &fakeCronRepo{extension: extension, jobs: make(map[int64]string)}
}

func (r *fakeCronRepo) ExtensionExists(context.Context) (bool, error) {
	return r.extension, nil
}

func (r *fakeCronRepo) Schedule(ctx context.Context, job *domain.PgCronJob) (int64, error) {
	return r.ScheduleRaw(ctx, job.Name, job.CronExpression, "SELECT "+job.FunctionName+"()")
}

func (r *fakeCronRepo) ScheduleRaw(_ context.Context, jobName, _, _ string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.jobs[r.nextID] = jobName
	return r.nextID, nil
}

func (r *fakeCronRepo) Unschedule(_ context.Context, jobID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
	return nil
}

func (r *fakeCronRepo) FindJobID(_ context.Context, jobName string) (*int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, name := range r.jobs {
		if name == jobName {
			found := id
			return &found, nil
		}
	}
	return nil, nil
}

func (r *fakeCronRepo) DeleteJobsByNameSuffix(_ context.Context, suffix string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, name := range r.jobs {
		if strings.HasSuffix(name, suffix) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeCronRepo) FetchCronJobs(context.Context, int, int) ([]*domain.CronJobEntry, error) {
	return nil, nil
}

func (r *fakeCronRepo) FetchCronJobRunDetails(context.Context, int, int) ([]*domain.CronJobRunDetail, error) {
	return nil, nil
}

func (r *fakeCronRepo) jobNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for _, name := range r.jobs {
		names = append(names, name)
	}
	return names
}

type fakeJobRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.ExecutorJobEntry
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{rows: make(map[string]*domain.ExecutorJobEntry)}
}

func (r *fakeJobRepo) EnsureTable(context.Context) error { return nil }

func (r *fakeJobRepo) Insert(_ context.Context, entry *domain.ExecutorJobEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *entry
	r.rows[entry.Name] = &copied
	return nil
}

func (r *fakeJobRepo) ExistsByName(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[name]
	return ok, nil
}

func (r *fakeJobRepo) DeleteByName(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, name)
	return nil
}

func (r *fakeJobRepo) DeleteByNameSuffix(_ context.Context, suffix string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for name := range r.rows {
		if strings.HasSuffix(name, suffix) {
			delete(r.rows, name)
			n++
		}
	}
	return n, nil
}

func (r *fakeJobRepo) DeleteAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = make(map[string]*domain.ExecutorJobEntry)
	return nil
}

func (r *fakeJobRepo) MarkStarted(_ context.Context, name string, startedAt, nextFireAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[name]; ok {
		row.LastStartedAt = &startedAt
		row.NextFireAt = &nextFireAt
	}
	return nil
}

func (r *fakeJobRepo) FetchExecutorJobEntries(context.Context, int, int) ([]*domain.ExecutorJobEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]*domain.ExecutorJobEntry, 0, len(r.rows))
	for _, row := range r.rows {
		copied := *row
		entries = append(entries, &copied)
	}
	return entries, nil
}

func (r *fakeJobRepo) TotalExecutorJobEntries(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows)), nil
}

func (r *fakeJobRepo) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.rows))
	for name := range r.rows {
		names = append(names, name)
	}
	return names
}

// ---- helpers ----

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newScheduler(lm *fakeLockManager, cron *fakeCronRepo, jobs *fakeJobRepo) *scheduler.Scheduler {
	return scheduler.New(lm, cron, jobs, testLogger(), scheduler.Config{
		LockName: "test-lock",
		Threads:  2,
	})
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

// ---- tests ----

func TestScheduler_InstallsRegisteredCronJobsOnAcquire(t *testing.T) {
	lm := &fakeLockManager{}
	cron := newFakeCronRepo(true)
	jobs := newFakeJobRepo()
	s := newScheduler(lm, cron, jobs)

	for _, name := range []string{"archive", "compact"} {
		err := s.ScheduleCronJob(context.Background(), &domain.PgCronJob{
			Name:           name,
			FunctionName:   "fn_" + name,
			CronExpression: "*/10 * * * * *",
		})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	if !s.PgCronAvailable() {
		t.Fatal("pg_cron should probe as available")
	}
	if s.IsLeader() {
		t.Fatal("must not be leader before the lock is acquired")
	}
	if len(cron.jobNames()) != 0 {
		t.Fatalf("no jobs should install before leadership, got %v", cron.jobNames())
	}

	lm.acquire()

	waitFor(t, "2 cron jobs installed", func() bool { return len(cron.jobNames()) == 2 })
	waitFor(t, "leader flag set", s.IsLeader)

	for _, name := range cron.jobNames() {
		if !strings.HasSuffix(name, s.InstanceID()) {
			t.Errorf("installed job %q must end with the instance id", name)
		}
	}
	if got := jobs.names(); len(got) != 0 {
		t.Errorf("cron-mode jobs must not produce executor audit rows, got %v", got)
	}
}

func TestScheduler_ReleaseThenReacquireReinstallsExactly(t *testing.T) {
	lm := &fakeLockManager{}
	cron := newFakeCronRepo(true)
	jobs := newFakeJobRepo()
	s := newScheduler(lm, cron, jobs)

	registered := []string{"archive", "compact", "report"}
	for _, name := range registered {
		if err := s.ScheduleCronJob(context.Background(), &domain.PgCronJob{
			Name:           name,
			FunctionName:   "fn_" + name,
			CronExpression: "*/10 * * * * *",
		}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	lm.acquire()
	waitFor(t, "first install sweep", func() bool { return len(cron.jobNames()) == len(registered) })

	lm.release()
	waitFor(t, "rows purged on release", func() bool { return len(cron.jobNames()) == 0 })
	waitFor(t, "leader flag cleared", func() bool { return !s.IsLeader() })

	lm.acquire()
	waitFor(t, "second install sweep", func() bool { return len(cron.jobNames()) == len(registered) })

	want := make(map[string]bool, len(registered))
	for _, name := range registered {
		want[name+"-"+s.InstanceID()] = true
	}
	for _, name := range cron.jobNames() {
		if !want[name] {
			t.Errorf("unexpected job %q after re-acquire", name)
		}
	}
}

func TestScheduler_CronFallsBackWhenPgCronUnavailable(t *testing.T) {
	lm := &fakeLockManager{}
	cron := newFakeCronRepo(false)
	jobs := newFakeJobRepo()
	s := newScheduler(lm, cron, jobs)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	var ticks atomic.Int64
	err := s.Schedule(context.Background(), scheduler.JobSpec{
		Name:     "cleanup",
		Schedule: domain.CronConfiguration{
			Expression:    "*/1 * * * * *",
			FallbackDelay: &domain.FixedDelay{InitialDelay: 5 * time.Millisecond, Period: 20 * time.Millisecond},
		},
		Call: &domain.FunctionCall{FunctionName: "fn_cleanup"},
		Task: func(context.Context) error {
			ticks.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	lm.acquire()

	waitFor(t, "task ran on fallback schedule", func() bool { return ticks.Load() >= 2 })

	if len(cron.jobNames()) != 0 {
		t.Errorf("no cron.job row may exist without pg_cron, got %v", cron.jobNames())
	}
	names := jobs.names()
	if len(names) != 1 {
		t.Fatalf("expected exactly one executor audit row, got %v", names)
	}
	if !strings.HasSuffix(names[0], s.InstanceID()) {
		t.Errorf("audit row %q must end with the instance id", names[0])
	}
}

func TestScheduler_TaskErrorsDoNotStopTicks(t *testing.T) {
	lm := &fakeLockManager{}
	cron := newFakeCronRepo(false)
	jobs := newFakeJobRepo()
	s := newScheduler(lm, cron, jobs)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()
	lm.acquire()

	var ticks atomic.Int64
	err := s.ScheduleExecutorJob(context.Background(), &domain.ExecutorJob{
		Name:       "flaky",
		FixedDelay: domain.FixedDelay{InitialDelay: 5 * time.Millisecond, Period: 15 * time.Millisecond},
		Task: func(context.Context) error {
			ticks.Add(1)
			panic("boom")
		},
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	waitFor(t, "ticks continue past failures", func() bool { return ticks.Load() >= 3 })
}

func TestScheduler_DuplicateNamesRejected(t *testing.T) {
	lm := &fakeLockManager{}
	s := newScheduler(lm, newFakeCronRepo(true), newFakeJobRepo())

	job := &domain.PgCronJob{Name: "dup", FunctionName: "fn", CronExpression: "* * * * *"}
	if err := s.ScheduleCronJob(context.Background(), job); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := s.ScheduleCronJob(context.Background(), job); err != domain.ErrDuplicateJobName {
		t.Fatalf("expected ErrDuplicateJobName, got %v", err)
	}

	execJob := &domain.ExecutorJob{
		Name:       "dup-exec",
		FixedDelay: domain.FixedDelay{Period: time.Second},
		Task:       func(context.Context) error { return nil },
	}
	if err := s.ScheduleExecutorJob(context.Background(), execJob); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := s.ScheduleExecutorJob(context.Background(), execJob); err != domain.ErrDuplicateJobName {
		t.Fatalf("expected ErrDuplicateJobName, got %v", err)
	}
}

func TestScheduler_StopPurgesEverything(t *testing.T) {
	lm := &fakeLockManager{}
	cron := newFakeCronRepo(true)
	jobs := newFakeJobRepo()
	s := newScheduler(lm, cron, jobs)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var ticks atomic.Int64
	_ = s.ScheduleCronJob(context.Background(), &domain.PgCronJob{
		Name: "archive", FunctionName: "fn_archive", CronExpression: "*/10 * * * * *",
	})
	_ = s.ScheduleExecutorJob(context.Background(), &domain.ExecutorJob{
		Name:       "pulse",
		FixedDelay: domain.FixedDelay{InitialDelay: 5 * time.Millisecond, Period: 10 * time.Millisecond},
		Task:       func(context.Context) error { ticks.Add(1); return nil },
	})

	lm.acquire()
	waitFor(t, "jobs installed", func() bool {
		return len(cron.jobNames()) == 1 && len(jobs.names()) == 1 && ticks.Load() >= 1
	})

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if s.IsStarted() || s.IsLeader() {
		t.Fatal("scheduler must be stopped and not leader")
	}
	if len(cron.jobNames()) != 0 {
		t.Errorf("cron jobs must be unscheduled on stop, got %v", cron.jobNames())
	}
	if len(jobs.names()) != 0 {
		t.Errorf("audit rows must be cleared on stop, got %v", jobs.names())
	}

	// Timers are cancelled; ticks settle.
	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	if ticks.Load() > settled+1 {
		t.Errorf("ticks kept running after stop: %d -> %d", settled, ticks.Load())
	}
}

func TestScheduler_SpecsQueuedBeforeStart(t *testing.T) {
	lm := &fakeLockManager{}
	cron := newFakeCronRepo(true)
	jobs := newFakeJobRepo()
	s := newScheduler(lm, cron, jobs)

	// Availability is unknown before Start; the spec must be queued, not
	// rejected or mode-selected early.
	err := s.Schedule(context.Background(), scheduler.JobSpec{
		Name:     "early",
		Schedule: domain.CronConfiguration{Expression: "*/10 * * * * *"},
		Call:     &domain.FunctionCall{FunctionName: "fn_early"},
	})
	if err != nil {
		t.Fatalf("queue before start: %v", err)
	}
	if len(cron.jobNames()) != 0 {
		t.Fatal("nothing may install before start")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	lm.acquire()
	waitFor(t, "queued spec installed as pg_cron job", func() bool {
		names := cron.jobNames()
		return len(names) == 1 && strings.HasPrefix(names[0], "early-")
	})
}
