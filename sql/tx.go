package sql

import (
	"context"
	"database/sql/driver"

	"github.com/kroma-labs/sentinel-mysql/lifecycle"
)

// Compile-time interface check.
var _ driver.Tx = (*tx)(nil)

// tx wraps a driver.Tx. driver.Tx takes no context, so the one the
// transaction began with parents the commit and rollback spans.
type tx struct {
	ctx  context.Context
	base driver.Tx
	conn *conn
}

func newTx(ctx context.Context, base driver.Tx, c *conn) *tx {
	return &tx{
		ctx:  ctx,
		base: base,
		conn: c,
	}
}

// Commit implements driver.Tx.
func (t *tx) Commit() error {
	_, h := t.conn.mgr.Begin(t.ctx, lifecycle.ActionOf(ActionCommit, t.conn.session.Info()))
	err := t.base.Commit()
	h.Finish(err)
	return err
}

// Rollback implements driver.Tx.
func (t *tx) Rollback() error {
	_, h := t.conn.mgr.Begin(t.ctx, lifecycle.ActionOf(ActionRollback, t.conn.session.Info()))
	err := t.base.Rollback()
	h.Finish(err)
	return err
}
