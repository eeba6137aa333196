// Package ttl schedules periodic DELETE-by-predicate jobs against user
// tables. A generic PL/pgSQL delete function is installed once at startup;
// the per-table jobs run through the scheduler, either as pg_cron rows or as
// in-process fixed-delay ticks.
package ttl

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ErlanBelekov/pg-executor/internal/domain"
	"github.com/ErlanBelekov/pg-executor/internal/identifier"
	"github.com/ErlanBelekov/pg-executor/internal/repository"
	"github.com/ErlanBelekov/pg-executor/internal/scheduler"
)

// DefaultFunctionName is the well-known name of the installed delete
// function.
const DefaultFunctionName = "pg_executor_ttl_delete"

// JobAction produces the work of one TTL job in both scheduling modes: a SQL
// function call for pg_cron, and a direct transactional DELETE for
// fixed-delay ticks.
type JobAction interface {
	JobName() string
	FunctionCall() domain.FunctionCall
	ExecuteDirectly(ctx context.Context, uowFactory repository.UnitOfWorkFactory) error
}

// JobDefinition pairs an action with when to run it.
type JobDefinition struct {
	Action   JobAction
	Schedule domain.ScheduleConfiguration
}

// DeleteAction is the default TTL action: delete rows of one validated table
// matching a caller-supplied predicate.
//
// The table name is validated; the where clause is spliced into SQL as-is
// and must never contain untrusted input. That responsibility sits with the
// caller.
type DeleteAction struct {
	functionName  string
	tableName     string
	whereClause   string
	fullDeleteSQL string
}

// NewDeleteAction validates tableName and builds the action. whereClause is
// taken verbatim.
func NewDeleteAction(functionName, tableName, whereClause string) (*DeleteAction, error) {
	if err := identifier.CheckIsValidTableOrColumnName(tableName, "ttl table"); err != nil {
		return nil, err
	}
	if !identifier.IsValidFunctionName(functionName) {
		return nil, fmt.Errorf("ttl function name %q is not a valid identifier", functionName)
	}
	if strings.TrimSpace(whereClause) == "" {
		return nil, errors.New("ttl where clause must not be empty")
	}
	return &DeleteAction{
		functionName: functionName,
		tableName:    tableName,
		whereClause:  whereClause,
	}, nil
}

// WithFullDeleteSQL overrides the generated DELETE used by ExecuteDirectly
// with a fully qualified statement.
func (a *DeleteAction) WithFullDeleteSQL(sql string) *DeleteAction {
	a.fullDeleteSQL = sql
	return a
}

func (a *DeleteAction) JobName() string {
	sum := md5.Sum([]byte(a.whereClause))
	return fmt.Sprintf("ttl-%s-%s", a.tableName, hex.EncodeToString(sum[:4]))
}

func (a *DeleteAction) FunctionCall() domain.FunctionCall {
	return domain.FunctionCall{
		FunctionName: a.functionName,
		Args:         []any{a.tableName, a.whereClause},
	}
}

func (a *DeleteAction) ExecuteDirectly(ctx context.Context, uowFactory repository.UnitOfWorkFactory) error {
	stmt := a.fullDeleteSQL
	if stmt == "" {
		// tableName passed identifier validation at construction.
		stmt = fmt.Sprintf("DELETE FROM %s WHERE %s", a.tableName, a.whereClause)
	}
	return uowFactory.UsingUnitOfWork(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		return uow.Exec(ctx, stmt)
	})
}

// JobScheduler is the slice of the scheduler the manager needs; satisfied by
// *scheduler.Scheduler.
type JobScheduler interface {
	Schedule(ctx context.Context, spec scheduler.JobSpec) error
}

// Manager registers TTL jobs with the scheduler and owns the delete
// function's installation.
type Manager struct {
	scheduler    JobScheduler
	uowFactory   repository.UnitOfWorkFactory
	functionName string
	logger       *slog.Logger

	mu          sync.Mutex
	started     bool
	definitions []JobDefinition
}

func NewManager(sched JobScheduler, uowFactory repository.UnitOfWorkFactory, functionName string, logger *slog.Logger) *Manager {
	if functionName == "" {
		functionName = DefaultFunctionName
	}
	return &Manager{
		scheduler:    sched,
		uowFactory:   uowFactory,
		functionName: functionName,
		logger:       logger.With("component", "ttl_manager"),
	}
}

// FunctionName returns the name the delete function is installed under.
func (m *Manager) FunctionName() string { return m.functionName }

// Start idempotently installs the delete function and schedules every queued
// definition.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.installFunction(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.started = true
	queued := make([]JobDefinition, len(m.definitions))
	copy(queued, m.definitions)
	m.mu.Unlock()

	for _, def := range queued {
		if err := m.scheduleDefinition(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleTTLJob registers a definition. Duplicates (by job name) are
// ignored; before Start the definition is queued.
func (m *Manager) ScheduleTTLJob(ctx context.Context, def JobDefinition) error {
	if def.Action == nil {
		return errors.New("ttl job action must not be nil")
	}
	if def.Schedule == nil {
		return errors.New("ttl job schedule must not be nil")
	}

	m.mu.Lock()
	name := def.Action.JobName()
	for _, existing := range m.definitions {
		if existing.Action.JobName() == name {
			m.mu.Unlock()
			m.logger.Debug("ttl job already registered", "job", name)
			return nil
		}
	}
	m.definitions = append(m.definitions, def)
	started := m.started
	m.mu.Unlock()

	if !started {
		return nil
	}
	return m.scheduleDefinition(ctx, def)
}

func (m *Manager) scheduleDefinition(ctx context.Context, def JobDefinition) error {
	action := def.Action
	call := action.FunctionCall()
	return m.scheduler.Schedule(ctx, scheduler.JobSpec{
		Name:     action.JobName(),
		Schedule: def.Schedule,
		Call:     &call,
		Task: func(ctx context.Context) error {
			return action.ExecuteDirectly(ctx, m.uowFactory)
		},
	})
}

// installFunction creates the generic delete function. %I quotes the table
// identifier; the predicate splice is the documented unsafe-for-untrusted
// part of the contract.
func (m *Manager) installFunction(ctx context.Context) error {
	if !identifier.IsValidFunctionName(m.functionName) {
		return fmt.Errorf("ttl function name %q is not a valid identifier", m.functionName)
	}

	ddl := fmt.Sprintf(`
CREATE OR REPLACE FUNCTION %s(p_table_name text, p_delete_statement text)
RETURNS void
LANGUAGE plpgsql
AS $func$
BEGIN
    EXECUTE format('DELETE FROM %%I WHERE %%s', p_table_name, p_delete_statement);
END;
$func$`, m.functionName)

	err := m.uowFactory.UsingUnitOfWork(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		return uow.Exec(ctx, ddl)
	})
	if err != nil {
		return fmt.Errorf("install ttl function %s: %w", m.functionName, err)
	}
	m.logger.Info("ttl delete function installed", "function", m.functionName)
	return nil
}
