package sql

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/sentinel-mysql/completion"
	"github.com/kroma-labs/sentinel-mysql/lifecycle"
	"github.com/kroma-labs/sentinel-mysql/metadata"
)

// Pool is an instrumented connection pool.
//
// Pool level operations open an operation span named after the action
// (Pool#query, Pool#exec, Pool#getConnection). When the handle was opened
// through an instrumented driver, the statements they run open statement
// spans beneath it.
type Pool struct {
	db     *sql.DB
	drv    *Driver
	mgr    *lifecycle.Manager
	info   metadata.Info
	logger zerolog.Logger

	mu     sync.Mutex
	reg    *Registry
	closed bool
}

func newPool(db *sql.DB, drv *Driver, cfg *config, info metadata.Info) *Pool {
	return &Pool{
		db:     db,
		drv:    drv,
		mgr:    cfg.Manager,
		info:   info,
		logger: cfg.Logger.With().Str("component", "pool").Str("host", info.Host).Logger(),
	}
}

// DB returns the underlying handle.
func (p *Pool) DB() *sql.DB { return p.db }

// Driver returns the instrumented driver behind the pool, or nil for
// handles instrumented with Instrument that were opened without one.
func (p *Pool) Driver() *Driver { return p.drv }

// Info returns the instance the pool connects to.
func (p *Pool) Info() metadata.Info { return p.info }

// Manager returns the span lifecycle manager of the pool.
func (p *Pool) Manager() *lifecycle.Manager { return p.mgr }

// StartOperation opens an operation span for action on this pool. The
// returned handle is nil without an ambient unit of work.
//
// Example:
//
//	ctx, h := pool.StartOperation(ctx, "Pool#migrate", "")
//	err := migrate(ctx, pool.DB())
//	h.Finish(err)
func (p *Pool) StartOperation(ctx context.Context, action, statement string) (context.Context, *lifecycle.Handle) {
	return p.mgr.Begin(ctx, lifecycle.Operation{
		Kind:      lifecycle.KindOperation,
		Action:    action,
		Statement: statement,
		Info:      p.info,
	})
}

// Query runs query and streams its rows. The operation finishes when the
// rows are exhausted, fail, or are closed.
func (p *Pool) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	ctx, h := p.StartOperation(ctx, ActionQuery, query)
	rs, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		h.Finish(err)
		return nil, err
	}
	return newPoolRows(rs, h), nil
}

// QueryRow runs a query expected to return at most one row. The operation
// finishes on Scan.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *Row {
	ctx, h := p.StartOperation(ctx, ActionQuery, query)
	return newRow(p.db.QueryRowContext(ctx, query, args...), h)
}

// QueryFunc runs query on a new goroutine and passes the materialized rows
// to fn. The operation finishes before fn is called.
func (p *Pool) QueryFunc(ctx context.Context, fn func([]Record, error), query string, args ...any) {
	ctx, h := p.StartOperation(ctx, ActionQuery, query)
	callback(h, func() ([]Record, error) {
		return p.queryRecords(ctx, query, args...)
	}, fn)
}

// QueryAsync runs query on a new goroutine and returns a future of the
// materialized rows.
func (p *Pool) QueryAsync(ctx context.Context, query string, args ...any) *completion.Future[[]Record] {
	ctx, h := p.StartOperation(ctx, ActionQuery, query)
	return deferred(h, func() ([]Record, error) {
		return p.queryRecords(ctx, query, args...)
	})
}

func (p *Pool) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rs, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return readRecords(rs)
}

// Exec runs a statement that returns no rows.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, h := p.StartOperation(ctx, ActionExec, query)
	res, err := p.db.ExecContext(ctx, query, args...)
	h.Finish(err)
	return res, err
}

// ExecFunc runs a statement on a new goroutine and passes the result to fn.
func (p *Pool) ExecFunc(ctx context.Context, fn func(sql.Result, error), query string, args ...any) {
	ctx, h := p.StartOperation(ctx, ActionExec, query)
	callback(h, func() (sql.Result, error) {
		return p.db.ExecContext(ctx, query, args...)
	}, fn)
}

// ExecAsync runs a statement on a new goroutine and returns a future of
// its result.
func (p *Pool) ExecAsync(ctx context.Context, query string, args ...any) *completion.Future[sql.Result] {
	ctx, h := p.StartOperation(ctx, ActionExec, query)
	return deferred(h, func() (sql.Result, error) {
		return p.db.ExecContext(ctx, query, args...)
	})
}

// GetConnection reserves a connection from the pool. Close the connection
// to return it.
func (p *Pool) GetConnection(ctx context.Context) (*Conn, error) {
	ctx, h := p.StartOperation(ctx, ActionGetConnection, "")
	c, err := p.conn(ctx)
	h.Finish(err)
	return c, err
}

// GetConnectionFunc reserves a connection on a new goroutine and passes it
// to fn.
func (p *Pool) GetConnectionFunc(ctx context.Context, fn func(*Conn, error)) {
	ctx, h := p.StartOperation(ctx, ActionGetConnection, "")
	callback(h, func() (*Conn, error) { return p.conn(ctx) }, fn)
}

// GetConnectionAsync reserves a connection on a new goroutine and returns
// a future of it.
func (p *Pool) GetConnectionAsync(ctx context.Context) *completion.Future[*Conn] {
	ctx, h := p.StartOperation(ctx, ActionGetConnection, "")
	return deferred(h, func() (*Conn, error) { return p.conn(ctx) })
}

// conn reserves a connection without a span of its own.
func (p *Pool) conn(ctx context.Context) (*Conn, error) {
	sc, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: sc}, nil
}

// BeginTx starts a transaction. The begin, commit and rollback spans come
// from the driver.
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return p.db.BeginTx(ctx, opts)
}

// Ping verifies a connection to the database is still alive.
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the pool. Closing twice is a no-op.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	reg := p.reg
	p.mu.Unlock()

	if reg != nil {
		reg.forget(p.db)
	}
	err := p.db.Close()
	p.logger.Debug().Err(err).Msg("pool closed")
	return err
}

func (p *Pool) setRegistry(r *Registry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reg = r
}

// Rows is the row stream of Pool.Query. It embeds *sql.Rows; the pool
// operation finishes when the stream ends: Next returning false after the
// last result set or on error, NextResultSet reporting no further set, or
// Close.
type Rows struct {
	*sql.Rows
	sig *completion.Signal
}

func newPoolRows(rs *sql.Rows, h *lifecycle.Handle) *Rows {
	sig := completion.NewSignal()
	completion.Adapt(completion.WithStream(sig), h.Finish)
	return &Rows{Rows: rs, sig: sig}
}

// Next prepares the next row for Scan.
func (r *Rows) Next() bool {
	if r.Rows.Next() {
		return true
	}
	if err := r.Rows.Err(); err != nil {
		r.sig.Fire(err)
	} else if exhausted(r.Rows) {
		r.sig.Fire(nil)
	}
	return false
}

// exhausted reports whether database/sql closed rs after its last result
// set. Columns fails only on closed rows, and has no side effect otherwise.
func exhausted(rs *sql.Rows) bool {
	_, err := rs.Columns()
	return err != nil
}

// NextResultSet advances to the next result set.
func (r *Rows) NextResultSet() bool {
	if r.Rows.NextResultSet() {
		return true
	}
	r.sig.Fire(r.Rows.Err())
	return false
}

// Close closes the rows.
func (r *Rows) Close() error {
	err := r.Rows.Close()
	r.sig.Fire(err)
	return err
}

// Row is the single row result of Pool.QueryRow.
type Row struct {
	row *sql.Row
	sig *completion.Signal
}

func newRow(row *sql.Row, h *lifecycle.Handle) *Row {
	sig := completion.NewSignal()
	completion.Adapt(completion.WithStream(sig), h.Finish)
	return &Row{row: row, sig: sig}
}

// Scan copies the columns of the row into dest. sql.ErrNoRows is returned
// to the caller but does not mark the operation failed.
func (r *Row) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		r.sig.Fire(nil)
	} else {
		r.sig.Fire(err)
	}
	return err
}

// Err returns the error, if any, that was encountered while running the
// query.
func (r *Row) Err() error {
	err := r.row.Err()
	if err != nil {
		r.sig.Fire(err)
	}
	return err
}
