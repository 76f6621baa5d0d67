package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const UniqueViolation = "23505"

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so repositories can run inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx DBTX) error) error
}

// PoolTx implements TxRunner on a pgx pool.
type PoolTx struct {
	pool *pgxpool.Pool
}

// NewTxRunner creates a TxRunner backed by pool.
func NewTxRunner(pool *pgxpool.Pool) *PoolTx {
	return &PoolTx{pool: pool}
}

// InTx commits when fn returns nil and rolls back otherwise.
func (p *PoolTx) InTx(ctx context.Context, fn func(tx DBTX) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

// IsUniqueViolation reports whether err is a unique constraint failure, optionally on a named constraint.
func IsUniqueViolation(err error, constraint ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != UniqueViolation {
		return false
	}
	if len(constraint) == 0 {
		return true
	}
	for _, c := range constraint {
		if pgErr.ConstraintName == c {
			return true
		}
	}
	return false
}

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
