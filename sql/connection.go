package sql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kroma-labs/sentinel-mysql/completion"
	"github.com/kroma-labs/sentinel-mysql/metadata"
)

// Conn is a single reserved connection.
//
// Statements on a Conn open statement spans only; there is no pool level
// operation around them. The connection tracks its own current database,
// so a USE statement here does not affect other connections.
type Conn struct {
	conn  *sql.Conn
	owned *sql.DB
}

// Raw exposes the underlying *sql.Conn.
func (c *Conn) Raw() *sql.Conn { return c.conn }

// Info returns the instance metadata the connection currently reports,
// including the database selected by the last successful USE statement.
//
// Connections not opened through an instrumented driver report zero info.
func (c *Conn) Info() metadata.Info {
	var info metadata.Info
	_ = c.conn.Raw(func(driverConn any) error {
		if ic, ok := driverConn.(*conn); ok {
			info = ic.session.Info()
		}
		return nil
	})
	return info
}

// Database returns the connection's current database.
func (c *Conn) Database() string {
	return c.Info().Database
}

// Query runs query on the connection.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

// QueryRow runs a query expected to return at most one row.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// QueryFunc runs query on a new goroutine and passes the materialized rows
// to fn.
func (c *Conn) QueryFunc(ctx context.Context, fn func([]Record, error), query string, args ...any) {
	callback(nil, func() ([]Record, error) {
		return c.queryRecords(ctx, query, args...)
	}, fn)
}

// QueryAsync runs query on a new goroutine and returns a future of the
// materialized rows.
func (c *Conn) QueryAsync(ctx context.Context, query string, args ...any) *completion.Future[[]Record] {
	return deferred(nil, func() ([]Record, error) {
		return c.queryRecords(ctx, query, args...)
	})
}

func (c *Conn) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rs, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return readRecords(rs)
}

// Exec runs a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

// ExecFunc runs a statement on a new goroutine and passes the result to fn.
func (c *Conn) ExecFunc(ctx context.Context, fn func(sql.Result, error), query string, args ...any) {
	callback(nil, func() (sql.Result, error) {
		return c.conn.ExecContext(ctx, query, args...)
	}, fn)
}

// ExecAsync runs a statement on a new goroutine and returns a future of
// its result.
func (c *Conn) ExecAsync(ctx context.Context, query string, args ...any) *completion.Future[sql.Result] {
	return deferred(nil, func() (sql.Result, error) {
		return c.conn.ExecContext(ctx, query, args...)
	})
}

// BeginTx starts a transaction on the connection.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

// Ping verifies the connection is still alive.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

// Close returns the connection to its pool. A connection from
// Driver.Connect is closed along with its dedicated handle.
func (c *Conn) Close() error {
	err := c.conn.Close()
	if c.owned != nil {
		err = errors.Join(err, c.owned.Close())
	}
	return err
}
