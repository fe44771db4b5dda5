package sql

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/kroma-labs/sentinel-mysql/completion"
	"github.com/kroma-labs/sentinel-mysql/lifecycle"
	"github.com/kroma-labs/sentinel-mysql/metadata"
)

// Compile-time interface checks.
var (
	_ driver.Conn               = (*conn)(nil)
	_ driver.ConnPrepareContext = (*conn)(nil)
	_ driver.ConnBeginTx        = (*conn)(nil)
	_ driver.ExecerContext      = (*conn)(nil)
	_ driver.QueryerContext     = (*conn)(nil)
	_ driver.Pinger             = (*conn)(nil)
	_ driver.SessionResetter    = (*conn)(nil)
	_ driver.Validator          = (*conn)(nil)
	_ driver.NamedValueChecker  = (*conn)(nil)
)

// conn wraps a driver.Conn with instrumentation.
//
// Each conn carries its own session, so a USE statement only changes the
// database reported for statements on this connection.
type conn struct {
	base    driver.Conn
	mgr     *lifecycle.Manager
	session *metadata.Session
}

// newConn creates a new instrumented connection.
func (d *Driver) newConn(base driver.Conn, info metadata.Info) *conn {
	d.checkShape(base)
	return &conn{
		base:    base,
		mgr:     d.cfg.Manager,
		session: metadata.NewSession(info),
	}
}

// Session returns the connection's tracked metadata.
func (c *conn) Session() *metadata.Session {
	return c.session
}

// Prepare implements driver.Conn.
func (c *conn) Prepare(query string) (driver.Stmt, error) {
	stmt, err := c.base.Prepare(query)
	if err != nil {
		return nil, err
	}
	return newStmt(stmt, c, query), nil
}

// Close implements driver.Conn.
func (c *conn) Close() error {
	return c.base.Close()
}

// Begin implements driver.Conn.
// Deprecated: Use BeginTx instead. This exists for driver.Conn interface compatibility.
func (c *conn) Begin() (driver.Tx, error) {
	tx, err := c.base.Begin() //nolint:staticcheck // Required for driver.Conn interface
	if err != nil {
		return nil, err
	}
	return newTx(context.Background(), tx, c), nil
}

// PrepareContext implements driver.ConnPrepareContext.
func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var stmt driver.Stmt
	var err error

	if preparer, ok := c.base.(driver.ConnPrepareContext); ok {
		stmt, err = preparer.PrepareContext(ctx, query)
	} else {
		stmt, err = c.base.Prepare(query)
	}

	if err != nil {
		return nil, err
	}
	return newStmt(stmt, c, query), nil
}

// BeginTx implements driver.ConnBeginTx.
//
// The transaction keeps ctx so commit and rollback spans attach to the same
// unit of work as the begin span.
func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	spanCtx, h := c.mgr.Begin(ctx, lifecycle.ActionOf(ActionBegin, c.session.Info()))

	var tx driver.Tx
	var err error

	if beginner, ok := c.base.(driver.ConnBeginTx); ok {
		tx, err = beginner.BeginTx(spanCtx, opts)
	} else {
		tx, err = c.base.Begin() //nolint:staticcheck // Fallback for older drivers
	}

	h.Finish(err)
	if err != nil {
		return nil, err
	}

	return newTx(ctx, tx, c), nil
}

// ExecContext implements driver.ExecerContext.
func (c *conn) ExecContext(
	ctx context.Context,
	query string,
	args []driver.NamedValue,
) (driver.Result, error) {
	execer, _ := c.base.(driver.ExecerContext)
	legacy, _ := c.base.(driver.Execer) //nolint:staticcheck // legacy fallback
	if execer == nil && legacy == nil {
		// Fallback: let database/sql prepare and execute
		return nil, driver.ErrSkip
	}

	ctx, h := c.mgr.Begin(ctx, lifecycle.StatementOf(query, c.session.Info()))

	var result driver.Result
	var err error
	if execer != nil {
		result, err = execer.ExecContext(ctx, query, args)
	} else {
		result, err = execLegacy(ctx, legacy, query, args)
	}

	if errors.Is(err, driver.ErrSkip) {
		h.Discard()
		return nil, err
	}

	c.session.Observe(query, err)
	h.Finish(err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// QueryContext implements driver.QueryerContext.
//
// The statement span stays open until the returned rows reach EOF, fail,
// or are closed.
func (c *conn) QueryContext(
	ctx context.Context,
	query string,
	args []driver.NamedValue,
) (driver.Rows, error) {
	queryer, _ := c.base.(driver.QueryerContext)
	legacy, _ := c.base.(driver.Queryer) //nolint:staticcheck // legacy fallback
	if queryer == nil && legacy == nil {
		// Fallback: let database/sql prepare and query
		return nil, driver.ErrSkip
	}

	ctx, h := c.mgr.Begin(ctx, lifecycle.StatementOf(query, c.session.Info()))

	var rows driver.Rows
	var err error
	if queryer != nil {
		rows, err = queryer.QueryContext(ctx, query, args)
	} else {
		rows, err = queryLegacy(ctx, legacy, query, args)
	}

	if errors.Is(err, driver.ErrSkip) {
		h.Discard()
		return nil, err
	}

	c.session.Observe(query, err)
	if err != nil {
		h.Finish(err)
		return nil, err
	}

	return newRows(rows, h), nil
}

// Ping implements driver.Pinger.
func (c *conn) Ping(ctx context.Context) error {
	pinger, ok := c.base.(driver.Pinger)
	if !ok {
		return nil
	}

	ctx, h := c.mgr.Begin(ctx, lifecycle.ActionOf(ActionPing, c.session.Info()))
	err := pinger.Ping(ctx)
	h.Finish(err)

	return err
}

// ResetSession implements driver.SessionResetter.
func (c *conn) ResetSession(ctx context.Context) error {
	if resetter, ok := c.base.(driver.SessionResetter); ok {
		return resetter.ResetSession(ctx)
	}
	return nil
}

// IsValid implements driver.Validator.
func (c *conn) IsValid() bool {
	if validator, ok := c.base.(driver.Validator); ok {
		return validator.IsValid()
	}
	return true
}

// CheckNamedValue implements driver.NamedValueChecker.
func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := c.base.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	// Use database/sql's default conversion.
	return driver.ErrSkip
}

func execLegacy(
	ctx context.Context,
	execer driver.Execer, //nolint:staticcheck // legacy fallback
	query string,
	args []driver.NamedValue,
) (driver.Result, error) {
	values, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return execer.Exec(query, values)
}

func queryLegacy(
	ctx context.Context,
	queryer driver.Queryer, //nolint:staticcheck // legacy fallback
	query string,
	args []driver.NamedValue,
) (driver.Rows, error) {
	values, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return queryer.Query(query, values)
}

// newRows wraps rows so h finishes when the stream ends.
func newRows(base driver.Rows, h *lifecycle.Handle) *rows {
	sig := completion.NewSignal()
	completion.Adapt(completion.WithStream(sig), h.Finish)
	return &rows{base: base, sig: sig}
}
