package repository

import (
	"context"
	"errors"
	"fmt"

	"goldledger/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
	q    querier
}

var (
	_ store.Database = (*Repository)(nil)
	_ store.Store    = (*Repository)(nil)
)

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// RunInTx hands fn a Repository bound to a single transaction. The
// transaction commits only when fn returns nil.
func (r *Repository) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	if r.pool == nil {
		return errors.New("nested transactions are not supported")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Repository{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
