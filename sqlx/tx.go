package sqlx

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	sentinelsql "github.com/kroma-labs/sentinel-mysql/sql"
)

// Span actions of transaction level operations.
const (
	ActionTxGet       = "Tx#get"
	ActionTxSelect    = "Tx#select"
	ActionTxNamedExec = "Tx#namedExec"
)

// Tx wraps *sqlx.Tx. Its sqlx helpers open operation spans like DB's.
type Tx struct {
	*sqlx.Tx
	pool *sentinelsql.Pool
}

// GetContext executes a query within the transaction that is expected to
// return at most one row and scans the result into dest.
func (tx *Tx) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return operation(ctx, tx.pool, ActionTxGet, query, func(ctx context.Context) error {
		return tx.Tx.GetContext(ctx, dest, query, args...)
	})
}

// SelectContext executes a query within the transaction and scans all
// results into dest.
func (tx *Tx) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return operation(ctx, tx.pool, ActionTxSelect, query, func(ctx context.Context) error {
		return tx.Tx.SelectContext(ctx, dest, query, args...)
	})
}

// NamedExecContext executes a named query within the transaction.
func (tx *Tx) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	var res sql.Result
	err := operation(ctx, tx.pool, ActionTxNamedExec, query, func(ctx context.Context) error {
		var err error
		res, err = tx.Tx.NamedExecContext(ctx, query, arg)
		return err
	})
	return res, err
}

// Unsafe returns a version of Tx that silently ignores missing destination
// fields.
func (tx *Tx) Unsafe() *Tx {
	return &Tx{Tx: tx.Tx.Unsafe(), pool: tx.pool}
}
