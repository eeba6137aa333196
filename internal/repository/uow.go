package repository

import "context"

// UnitOfWork is a transaction handle. Statements issued through it commit or
// roll back together.
type UnitOfWork interface {
	Exec(ctx context.Context, sql string, args ...any) error
}

// UnitOfWorkFactory runs fn inside a transaction: commit on nil return,
// rollback otherwise. The scheduler and TTL manager use it for DDL and
// control-plane mutations.
type UnitOfWorkFactory interface {
	UsingUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}
