package sql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/kroma-labs/sentinel-mysql/lifecycle"
)

const (
	poolQuerySpan = "Datastore/operation/MySQL/" + ActionQuery
	poolExecSpan  = "Datastore/operation/MySQL/" + ActionExec
	poolConnSpan  = "Datastore/operation/MySQL/" + ActionGetConnection
)

func TestPool_Query(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	pool := env.pool(t)
	env.mock.ExpectQuery("SELECT * FROM agent_integration.test").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	ctx, parent := env.unit()
	defer parent.End()

	rows, err := pool.Query(ctx, "SELECT * FROM agent_integration.test")
	require.NoError(t, err)
	assert.Empty(t, env.spansNamed(poolQuerySpan))

	var n int
	for rows.Next() {
		n++
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, 2, n)

	op := env.span(t, poolQuerySpan)
	assert.Equal(t, parent.SpanContext().SpanID(), op.Parent.SpanID())
	assert.Equal(t, "agent_integration.test", spanAttrs(op)["db.collection"])

	st := env.span(t, "Datastore/statement/MySQL/agent_integration.test/select")
	assert.Equal(t, op.SpanContext.SpanID(), st.Parent.SpanID())
	assert.Zero(t, env.drv.Manager().Stats().Snapshot().DoubleFinished)
}

func TestPool_Query_MultipleResultSets(t *testing.T) {
	tests := []struct {
		name  string
		close bool
	}{
		{
			name: "given every set read, then finishes after the last set",
		},
		{
			name:  "given close after the first set, then finishes on close",
			close: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
			pool := env.pool(t)
			env.mock.ExpectQuery("CALL report()").WillReturnRows(
				sqlmock.NewRows([]string{"a"}).AddRow(1),
				sqlmock.NewRows([]string{"b"}).AddRow(2).AddRow(3),
			)

			ctx, parent := env.unit()
			defer parent.End()

			rows, err := pool.Query(ctx, "CALL report()")
			require.NoError(t, err)

			for rows.Next() {
			}
			assert.Empty(t, env.spansNamed(poolQuerySpan))

			if tt.close {
				require.NoError(t, rows.Close())
			} else {
				require.True(t, rows.NextResultSet())
				var n int
				for rows.Next() {
					n++
				}
				assert.Equal(t, 2, n)
				require.NoError(t, rows.Err())
			}

			op := env.span(t, poolQuerySpan)
			st := env.span(t, "Datastore/statement/MySQL/unknown/other")
			assert.Equal(t, op.SpanContext.SpanID(), st.Parent.SpanID())
			for _, s := range env.exporter.GetSpans() {
				assert.NotContains(t, s.Name, lifecycle.TruncatedPrefix)
			}
			assert.Zero(t, env.drv.Manager().Stats().Snapshot().Orphaned)
			require.NoError(t, rows.Close())
		})
	}
}

func TestPool_Query_UnitOfWorkEnded(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	pool := env.pool(t)
	env.mock.ExpectQuery("SELECT * FROM users").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	ctx, parent := env.unit()
	rows, err := pool.Query(ctx, "SELECT * FROM users")
	require.NoError(t, err)
	parent.End()
	require.NoError(t, rows.Close())

	env.span(t, lifecycle.TruncatedPrefix+poolQuerySpan)
	env.span(t, lifecycle.TruncatedPrefix+"Datastore/statement/MySQL/users/select")
	assert.EqualValues(t, 2, env.drv.Manager().Stats().Snapshot().Orphaned)
}

func TestPool_QueryRow(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(sqlmock.Sqlmock)
		wantErr    assert.ErrorAssertionFunc
		wantStatus codes.Code
	}{
		{
			name: "given a row, then finishes on scan",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery("SELECT name FROM users").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("ann"))
			},
			wantErr:    assert.NoError,
			wantStatus: codes.Unset,
		},
		{
			name: "given no rows, then returns ErrNoRows without failing the span",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery("SELECT name FROM users").WillReturnRows(sqlmock.NewRows([]string{"name"}))
			},
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, sql.ErrNoRows)
			},
			wantStatus: codes.Unset,
		},
		{
			name: "given a query error, then fails the span",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery("SELECT name FROM users").WillReturnError(errors.New("gone away"))
			},
			wantErr:    assert.Error,
			wantStatus: codes.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
			pool := env.pool(t)
			tt.setup(env.mock)

			ctx, parent := env.unit()
			defer parent.End()

			var name string
			tt.wantErr(t, pool.QueryRow(ctx, "SELECT name FROM users").Scan(&name))
			assert.Equal(t, tt.wantStatus, env.span(t, poolQuerySpan).Status.Code)
		})
	}
}

func TestPool_Exec(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
	}{
		{
			name:       "given successful exec, then span is ok",
			wantStatus: codes.Unset,
		},
		{
			name:       "given failed exec, then span records the error",
			err:        errBoom,
			wantStatus: codes.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
			pool := env.pool(t)
			exp := env.mock.ExpectExec("INSERT INTO users (name) VALUES ('ann')")
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(1, 1))
			}

			ctx, parent := env.unit()
			_, err := pool.Exec(ctx, "INSERT INTO users (name) VALUES ('ann')")
			parent.End()

			assert.ErrorIs(t, err, tt.err)
			s := env.span(t, poolExecSpan)
			assert.Equal(t, tt.wantStatus, s.Status.Code)
			assert.Equal(t, "users", spanAttrs(s)["db.collection"])
		})
	}
}

func TestPool_QueryFunc_FinishesBeforeCallback(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	pool := env.pool(t)
	env.mock.ExpectQuery("SELECT id, name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "ann"))

	ctx, parent := env.unit()
	defer parent.End()

	type outcome struct {
		records []Record
		err     error
		ended   int
	}
	got := make(chan outcome, 1)
	pool.QueryFunc(ctx, func(records []Record, err error) {
		got <- outcome{records: records, err: err, ended: len(env.spansNamed(poolQuerySpan))}
	}, "SELECT id, name FROM users")

	select {
	case o := <-got:
		require.NoError(t, o.err)
		assert.Equal(t, 1, o.ended)
		require.Len(t, o.records, 1)
		assert.Equal(t, "ann", o.records[0]["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("callback not called")
	}
}

func TestPool_QueryAsync(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	pool := env.pool(t)
	env.mock.ExpectQuery("SELECT id FROM users").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	ctx, parent := env.unit()
	defer parent.End()

	records, err := pool.QueryAsync(ctx, "SELECT id FROM users").Await(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	env.span(t, poolQuerySpan)
}

func TestPool_ExecStyles(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	pool := env.pool(t)
	env.mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 3))
	env.mock.ExpectExec("DELETE FROM sessions").WillReturnError(errors.New("locked"))

	ctx, parent := env.unit()
	defer parent.End()

	done := make(chan error, 1)
	pool.ExecFunc(ctx, func(res sql.Result, err error) {
		if err == nil {
			var n int64
			n, err = res.RowsAffected()
			if n != 3 {
				err = errors.New("unexpected rows affected")
			}
		}
		done <- err
	}, "DELETE FROM sessions")
	require.NoError(t, <-done)

	_, err := pool.ExecAsync(ctx, "DELETE FROM sessions").Await(context.Background())
	require.EqualError(t, err, "locked")

	spans := env.spansNamed(poolExecSpan)
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestPool_GetConnection(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	pool := env.pool(t)

	ctx, parent := env.unit()
	defer parent.End()

	conn, err := pool.GetConnection(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	got := make(chan *Conn, 1)
	pool.GetConnectionFunc(ctx, func(c *Conn, err error) {
		assert.NoError(t, err)
		got <- c
	})
	require.NoError(t, (<-got).Close())

	conn, err = pool.GetConnectionAsync(ctx).Await(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	spans := env.spansNamed(poolConnSpan)
	require.Len(t, spans, 3)
	for _, s := range spans {
		assert.Equal(t, "db1", spanAttrs(s)[lifecycle.AttrHost])
		assert.NotContains(t, spanAttrs(s), "db.statement")
	}
}

func TestPool_NoUnitOfWork(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	pool := env.pool(t)
	env.mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	_, err := pool.ExecAsync(context.Background(), "DELETE FROM sessions").Await(context.Background())
	require.NoError(t, err)
	records, err := pool.QueryAsync(context.Background(), "SELECT 1").Await(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)

	assert.Empty(t, env.exporter.GetSpans())
}

func TestPool_StartOperation(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	pool := env.pool(t)

	ctx, parent := env.unit()
	_, h := pool.StartOperation(ctx, "Pool#migrate", "")
	require.NotNil(t, h)
	h.Finish(nil)
	parent.End()

	s := env.span(t, "Datastore/operation/MySQL/Pool#migrate")
	assert.Equal(t, "orders", spanAttrs(s)[lifecycle.AttrDatabaseName])
}
