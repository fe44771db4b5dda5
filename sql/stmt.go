package sql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/kroma-labs/sentinel-mysql/lifecycle"
)

// Compile-time interface checks.
var (
	_ driver.Stmt              = (*stmt)(nil)
	_ driver.StmtExecContext   = (*stmt)(nil)
	_ driver.StmtQueryContext  = (*stmt)(nil)
	_ driver.NamedValueChecker = (*stmt)(nil)
)

// stmt wraps a prepared driver.Stmt. Executions report against the session
// of the connection that prepared it.
type stmt struct {
	base  driver.Stmt
	conn  *conn
	query string
}

func newStmt(base driver.Stmt, c *conn, query string) *stmt {
	return &stmt{
		base:  base,
		conn:  c,
		query: query,
	}
}

// Close implements driver.Stmt.
func (s *stmt) Close() error {
	return s.base.Close()
}

// NumInput implements driver.Stmt.
func (s *stmt) NumInput() int {
	return s.base.NumInput()
}

// Exec implements driver.Stmt.
// Deprecated: Use ExecContext instead. This exists for driver.Stmt interface compatibility.
func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.base.Exec(args) //nolint:staticcheck // Required for driver.Stmt interface
}

// Query implements driver.Stmt.
// Deprecated: Use QueryContext instead. This exists for driver.Stmt interface compatibility.
func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.base.Query(args) //nolint:staticcheck // Required for driver.Stmt interface
}

// ExecContext implements driver.StmtExecContext.
func (s *stmt) ExecContext(
	ctx context.Context,
	args []driver.NamedValue,
) (driver.Result, error) {
	ctx, h := s.conn.mgr.Begin(ctx, lifecycle.StatementOf(s.query, s.conn.session.Info()))

	var result driver.Result
	var err error

	if execer, ok := s.base.(driver.StmtExecContext); ok {
		result, err = execer.ExecContext(ctx, args)
	} else {
		// Fallback to non-context version
		var values []driver.Value
		if values, err = namedValueToValue(args); err == nil {
			result, err = s.base.Exec(values) //nolint:staticcheck // Fallback for older drivers
		}
	}

	s.conn.session.Observe(s.query, err)
	h.Finish(err)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// QueryContext implements driver.StmtQueryContext.
func (s *stmt) QueryContext(
	ctx context.Context,
	args []driver.NamedValue,
) (driver.Rows, error) {
	ctx, h := s.conn.mgr.Begin(ctx, lifecycle.StatementOf(s.query, s.conn.session.Info()))

	var rows driver.Rows
	var err error

	if queryer, ok := s.base.(driver.StmtQueryContext); ok {
		rows, err = queryer.QueryContext(ctx, args)
	} else {
		// Fallback to non-context version
		var values []driver.Value
		if values, err = namedValueToValue(args); err == nil {
			rows, err = s.base.Query(values) //nolint:staticcheck // Fallback for older drivers
		}
	}

	s.conn.session.Observe(s.query, err)
	if err != nil {
		h.Finish(err)
		return nil, err
	}

	return newRows(rows, h), nil
}

// CheckNamedValue implements driver.NamedValueChecker.
func (s *stmt) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := s.base.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	return s.conn.CheckNamedValue(nv)
}

var errNamedArgs = errors.New("sentinelsql: driver does not support the use of Named Parameters")

// namedValueToValue converts NamedValue slice to Value slice. Drivers
// without context support cannot take named parameters.
func namedValueToValue(named []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(named))
	for i, nv := range named {
		if nv.Name != "" {
			return nil, fmt.Errorf("argument %q: %w", nv.Name, errNamedArgs)
		}
		values[i] = nv.Value
	}
	return values, nil
}
