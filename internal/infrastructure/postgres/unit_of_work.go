package postgres

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/pg-executor/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UnitOfWorkFactory implements repository.UnitOfWorkFactory over a pgx pool.
type UnitOfWorkFactory struct {
	pool *pgxpool.Pool
}

func NewUnitOfWorkFactory(pool *pgxpool.Pool) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{pool: pool}
}

func (f *UnitOfWorkFactory) UsingUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow repository.UnitOfWork) error) error {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(ctx, &txUnitOfWork{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txUnitOfWork struct {
	tx pgx.Tx
}

func (u *txUnitOfWork) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := u.tx.Exec(ctx, sql, args...)
	return err
}
