package sqlx

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	sentinelsql "github.com/kroma-labs/sentinel-mysql/sql"
)

// Span actions of DB level operations.
const (
	ActionGet        = "DB#get"
	ActionSelect     = "DB#select"
	ActionNamedExec  = "DB#namedExec"
	ActionNamedQuery = "DB#namedQuery"
	ActionQueryx     = "DB#queryx"
)

// DB wraps *sqlx.DB on an instrumented pool.
//
// The sqlx helpers open an operation span (DB#get, DB#select, ...). The
// statements they run open statement spans beneath it through the pool's
// driver. Methods not overridden here, such as PreparexContext, are traced
// at the statement level only.
type DB struct {
	*sqlx.DB
	pool *sentinelsql.Pool
}

// Open opens an instrumented pool on the driver registered as driverName.
//
// Example:
//
//	import _ "github.com/go-sql-driver/mysql"
//
//	db, err := sentinelsqlx.Open("mysql", "app@tcp(db1:3306)/orders",
//	    sentinelsql.WithQuerySanitizer(lifecycle.DefaultQuerySanitizer),
//	)
func Open(driverName, dsn string, opts ...sentinelsql.Option) (*DB, error) {
	pool, err := sentinelsql.Open(driverName, dsn, opts...)
	if err != nil {
		return nil, err
	}
	return NewDB(pool, driverName), nil
}

// Connect opens and verifies a database connection.
// It is equivalent to Open followed by Ping.
func Connect(ctx context.Context, driverName, dsn string, opts ...sentinelsql.Option) (*DB, error) {
	db, err := Open(driverName, dsn, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewDB wraps pool with sqlx. driverName selects sqlx's bind type.
//
// Example:
//
//	pool, _ := drv.OpenPool(dsn)
//	db := sentinelsqlx.NewDB(pool, "mysql")
func NewDB(pool *sentinelsql.Pool, driverName string) *DB {
	return &DB{
		DB:   sqlx.NewDb(pool.DB(), driverName),
		pool: pool,
	}
}

// MustConnect is like Connect but panics on error.
func MustConnect(ctx context.Context, driverName, dsn string, opts ...sentinelsql.Option) *DB {
	db, err := Connect(ctx, driverName, dsn, opts...)
	if err != nil {
		panic(err)
	}
	return db
}

// Pool returns the instrumented pool behind db.
func (db *DB) Pool() *sentinelsql.Pool {
	return db.pool
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.pool.Close()
}

// GetContext executes a query that is expected to return at most one row
// and scans the result into dest.
func (db *DB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return operation(ctx, db.pool, ActionGet, query, func(ctx context.Context) error {
		return db.DB.GetContext(ctx, dest, query, args...)
	})
}

// SelectContext executes a query and scans all results into dest.
func (db *DB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return operation(ctx, db.pool, ActionSelect, query, func(ctx context.Context) error {
		return db.DB.SelectContext(ctx, dest, query, args...)
	})
}

// NamedExecContext executes a named query.
func (db *DB) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	var res sql.Result
	err := operation(ctx, db.pool, ActionNamedExec, query, func(ctx context.Context) error {
		var err error
		res, err = db.DB.NamedExecContext(ctx, query, arg)
		return err
	})
	return res, err
}

// NamedQueryContext executes a named query and streams its rows.
func (db *DB) NamedQueryContext(ctx context.Context, query string, arg any) (*Rows, error) {
	ctx, h := db.pool.StartOperation(ctx, ActionNamedQuery, query)
	rows, err := db.DB.NamedQueryContext(ctx, query, arg)
	if err != nil {
		h.Finish(err)
		return nil, err
	}
	return newRows(rows, h), nil
}

// QueryxContext executes a query and streams its rows. The operation
// finishes when the rows are exhausted, fail, or are closed.
func (db *DB) QueryxContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	ctx, h := db.pool.StartOperation(ctx, ActionQueryx, query)
	rows, err := db.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		h.Finish(err)
		return nil, err
	}
	return newRows(rows, h), nil
}

// BeginTxx starts a transaction. The begin, commit and rollback spans come
// from the driver.
func (db *DB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, pool: db.pool}, nil
}

// MustBeginTx starts a transaction and panics on error.
func (db *DB) MustBeginTx(ctx context.Context, opts *sql.TxOptions) *Tx {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		panic(err)
	}
	return tx
}

// Unsafe returns a version of DB that silently ignores missing destination
// fields.
func (db *DB) Unsafe() *DB {
	return &DB{DB: db.DB.Unsafe(), pool: db.pool}
}

// operation runs fn inside an operation span of pool. sql.ErrNoRows is
// returned to the caller but does not mark the span failed.
func operation(
	ctx context.Context,
	pool *sentinelsql.Pool,
	action, query string,
	fn func(ctx context.Context) error,
) error {
	ctx, h := pool.StartOperation(ctx, action, query)
	err := fn(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		h.Finish(nil)
	} else {
		h.Finish(err)
	}
	return err
}
