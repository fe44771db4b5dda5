package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-mysql/lifecycle"
)

var dsnSeq atomic.Int64

// uniqueDSN returns a mysql data source name no other test uses; sqlmock
// keys its connections by DSN process-wide.
func uniqueDSN(host string, port int, database string) string {
	return fmt.Sprintf("u%d@tcp(%s:%d)/%s", dsnSeq.Add(1), host, port, database)
}

type testEnv struct {
	reg      *Registry
	drv      *Driver
	mock     sqlmock.Sqlmock
	dsn      string
	tp       *sdktrace.TracerProvider
	exporter *tracetest.InMemoryExporter
	tracer   trace.Tracer
}

// newTestEnv installs the sqlmock driver in a fresh registry with traces
// captured in memory.
func newTestEnv(t *testing.T, dsn string, opts ...Option) *testEnv {
	t.Helper()

	mockDB, mock := newMock(t, dsn)

	exporter := tracetest.NewInMemoryExporter()
	units := lifecycle.NewUnits(0)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSpanProcessor(units),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	reg := NewRegistry(zerolog.Nop())
	base := []Option{
		WithTracerProvider(tp),
		WithUnits(units),
		WithHostname(func() string { return "test-host" }),
	}
	drv, created := reg.Install(mockDB.Driver(), KindCallback, append(base, opts...)...)
	require.True(t, created)

	return &testEnv{
		reg:      reg,
		drv:      drv,
		mock:     mock,
		dsn:      dsn,
		tp:       tp,
		exporter: exporter,
		tracer:   tp.Tracer("app"),
	}
}

// newMock registers a sqlmock connection under dsn. The returned handle is
// not instrumented; its driver is the process-wide sqlmock driver.
func newMock(t *testing.T, dsn string) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.NewWithDSN(dsn, sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func (e *testEnv) pool(t *testing.T) *Pool {
	t.Helper()
	p, err := e.drv.OpenPool(e.dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func (e *testEnv) unit() (context.Context, trace.Span) {
	return e.tracer.Start(context.Background(), "unit-of-work")
}

func (e *testEnv) spansNamed(name string) []tracetest.SpanStub {
	var out []tracetest.SpanStub
	for _, s := range e.exporter.GetSpans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func (e *testEnv) span(t *testing.T, name string) tracetest.SpanStub {
	t.Helper()
	spans := e.spansNamed(name)
	require.Len(t, spans, 1, "spans named %q", name)
	return spans[0]
}

func spanAttrs(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, kv := range s.Attributes {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func TestDriver_StatementSpan(t *testing.T) {
	type args struct {
		host     string
		port     int
		database string
		opts     []Option
	}

	tests := []struct {
		name      string
		args      args
		wantAttrs map[string]string
		wantNone  []string
	}{
		{
			name: "given config with host port and database, then span carries all three",
			args: args{host: "db1", port: 5000, database: "orders"},
			wantAttrs: map[string]string{
				lifecycle.AttrHost:         "db1",
				lifecycle.AttrPortPathOrID: "5000",
				lifecycle.AttrDatabaseName: "orders",
				"db.system":                "mysql",
				"db.statement":             "SELECT 1",
			},
		},
		{
			name:      "given loopback host, then reports the machine hostname",
			args:      args{host: "127.0.0.1", port: 3306, database: "orders"},
			wantAttrs: map[string]string{lifecycle.AttrHost: "test-host", lifecycle.AttrPortPathOrID: "3306"},
		},
		{
			name: "given instance reporting disabled, then omits host and port",
			args: args{
				host: "db1", port: 5000, database: "orders",
				opts: []Option{WithInstanceReporting(false)},
			},
			wantAttrs: map[string]string{lifecycle.AttrDatabaseName: "orders"},
			wantNone:  []string{lifecycle.AttrHost, lifecycle.AttrPortPathOrID},
		},
		{
			name: "given database name reporting disabled, then omits database",
			args: args{
				host: "db1", port: 5000, database: "orders",
				opts: []Option{WithDatabaseNameReporting(false)},
			},
			wantAttrs: map[string]string{lifecycle.AttrHost: "db1"},
			wantNone:  []string{lifecycle.AttrDatabaseName},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, uniqueDSN(tt.args.host, tt.args.port, tt.args.database), tt.args.opts...)
			db := env.pool(t).DB()
			env.mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

			ctx, parent := env.unit()
			var got int
			require.NoError(t, db.QueryRowContext(ctx, "SELECT 1").Scan(&got))
			parent.End()

			s := env.span(t, "Datastore/statement/MySQL/unknown/select")
			attrs := spanAttrs(s)
			for k, v := range tt.wantAttrs {
				assert.Equal(t, v, attrs[k], k)
			}
			for _, k := range tt.wantNone {
				assert.NotContains(t, attrs, k)
			}
			assert.Equal(t, parent.SpanContext().SpanID(), s.Parent.SpanID())
			assert.Equal(t, trace.SpanKindClient, s.SpanKind)
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestDriver_NoUnitOfWork(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	db := env.pool(t).DB()

	env.mock.ExpectExec("INSERT INTO orders (id) VALUES (1)").WillReturnResult(sqlmock.NewResult(1, 1))
	env.mock.ExpectQuery("SELECT * FROM orders").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	_, err := db.ExecContext(context.Background(), "INSERT INTO orders (id) VALUES (1)")
	require.NoError(t, err)

	rows, err := db.QueryContext(context.Background(), "SELECT * FROM orders")
	require.NoError(t, err)
	for rows.Next() {
	}
	require.NoError(t, rows.Close())

	assert.Empty(t, env.exporter.GetSpans())
	assert.Zero(t, env.drv.Manager().Stats().Snapshot().Started)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestDriver_StatementError(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	db := env.pool(t).DB()
	errBoom := errors.New("boom")

	env.mock.ExpectExec("DELETE FROM orders").WillReturnError(errBoom)

	ctx, parent := env.unit()
	_, err := db.ExecContext(ctx, "DELETE FROM orders")
	parent.End()

	require.ErrorIs(t, err, errBoom)
	s := env.span(t, "Datastore/statement/MySQL/orders/delete")
	assert.Equal(t, codes.Error, s.Status.Code)
	assert.Equal(t, "boom", s.Status.Description)
}

func TestConn_Use_TracksDatabasePerConnection(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	pool := env.pool(t)
	ctx, parent := env.unit()
	defer parent.End()

	first, err := pool.GetConnection(ctx)
	require.NoError(t, err)
	defer first.Close()
	second, err := pool.GetConnection(ctx)
	require.NoError(t, err)
	defer second.Close()

	env.mock.ExpectExec("USE inventory").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectExec("USE missing").WillReturnError(errors.New("unknown database"))
	env.mock.ExpectQuery("SELECT * FROM items").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	env.mock.ExpectQuery("SELECT * FROM customers").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = first.Exec(ctx, "USE inventory")
	require.NoError(t, err)
	_, err = first.Exec(ctx, "USE missing")
	require.Error(t, err)

	assert.Equal(t, "inventory", first.Database())
	assert.Equal(t, "orders", second.Database())

	rows, err := first.Query(ctx, "SELECT * FROM items")
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	rows, err = second.Query(ctx, "SELECT * FROM customers")
	require.NoError(t, err)
	require.NoError(t, rows.Close())

	items := spanAttrs(env.span(t, "Datastore/statement/MySQL/items/select"))
	assert.Equal(t, "inventory", items[lifecycle.AttrDatabaseName])
	customers := spanAttrs(env.span(t, "Datastore/statement/MySQL/customers/select"))
	assert.Equal(t, "orders", customers[lifecycle.AttrDatabaseName])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRows_FinishOnce(t *testing.T) {
	errRow := errors.New("row failed")

	tests := []struct {
		name       string
		rows       *sqlmock.Rows
		wantStatus codes.Code
	}{
		{
			name:       "given rows read to the end and closed, then finishes once",
			rows:       sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2),
			wantStatus: codes.Unset,
		},
		{
			name:       "given an error mid stream, then finishes once with the error",
			rows:       sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).RowError(1, errRow),
			wantStatus: codes.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
			db := env.pool(t).DB()
			env.mock.ExpectQuery("SELECT id FROM users").WillReturnRows(tt.rows)

			ctx, parent := env.unit()
			defer parent.End()

			rows, err := db.QueryContext(ctx, "SELECT id FROM users")
			require.NoError(t, err)
			assert.Empty(t, env.spansNamed("Datastore/statement/MySQL/users/select"))

			for rows.Next() {
			}
			_ = rows.Close()
			_ = rows.Close()

			s := env.span(t, "Datastore/statement/MySQL/users/select")
			assert.Equal(t, tt.wantStatus, s.Status.Code)

			snap := env.drv.Manager().Stats().Snapshot()
			assert.Zero(t, snap.DoubleFinished)
		})
	}
}

func TestRows_MultipleResultSets(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	db := env.pool(t).DB()
	env.mock.ExpectQuery("CALL report()").WillReturnRows(
		sqlmock.NewRows([]string{"a"}).AddRow(1),
		sqlmock.NewRows([]string{"b"}).AddRow(2),
	)

	ctx, parent := env.unit()
	defer parent.End()

	rows, err := db.QueryContext(ctx, "CALL report()")
	require.NoError(t, err)
	defer rows.Close()

	for rows.Next() {
	}
	assert.Empty(t, env.spansNamed("Datastore/statement/MySQL/unknown/other"))

	require.True(t, rows.NextResultSet())
	for rows.Next() {
	}
	require.NoError(t, rows.Err())

	env.span(t, "Datastore/statement/MySQL/unknown/other")
}

func TestTx_Spans(t *testing.T) {
	tests := []struct {
		name   string
		commit bool
		want   string
	}{
		{
			name:   "given committed transaction, then emits begin and commit under the unit of work",
			commit: true,
			want:   "Datastore/operation/MySQL/" + ActionCommit,
		},
		{
			name:   "given rolled back transaction, then emits begin and rollback under the unit of work",
			commit: false,
			want:   "Datastore/operation/MySQL/" + ActionRollback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
			db := env.pool(t).DB()

			env.mock.ExpectBegin()
			env.mock.ExpectExec("UPDATE orders SET status = 'paid'").WillReturnResult(sqlmock.NewResult(0, 1))
			if tt.commit {
				env.mock.ExpectCommit()
			} else {
				env.mock.ExpectRollback()
			}

			ctx, parent := env.unit()
			tx, err := db.BeginTx(ctx, nil)
			require.NoError(t, err)
			_, err = tx.ExecContext(ctx, "UPDATE orders SET status = 'paid'")
			require.NoError(t, err)
			if tt.commit {
				require.NoError(t, tx.Commit())
			} else {
				require.NoError(t, tx.Rollback())
			}
			parent.End()

			unitID := parent.SpanContext().SpanID()
			for _, name := range []string{
				"Datastore/operation/MySQL/" + ActionBegin,
				"Datastore/statement/MySQL/orders/update",
				tt.want,
			} {
				assert.Equal(t, unitID, env.span(t, name).Parent.SpanID(), name)
			}
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestStmt_Prepared(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	db := env.pool(t).DB()

	prep := env.mock.ExpectPrepare("SELECT name FROM users WHERE id = ?")
	prep.ExpectQuery().WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("ann"))
	prep.ExpectExec().WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 0))

	ctx, parent := env.unit()
	defer parent.End()

	stmt, err := db.PrepareContext(ctx, "SELECT name FROM users WHERE id = ?")
	require.NoError(t, err)
	defer stmt.Close()

	var name string
	require.NoError(t, stmt.QueryRowContext(ctx, 7).Scan(&name))
	assert.Equal(t, "ann", name)
	_, err = stmt.ExecContext(ctx, 7)
	require.NoError(t, err)

	assert.Len(t, env.spansNamed("Datastore/statement/MySQL/users/select"), 2)
}

func TestDriver_OrphanedSpan(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	db := env.pool(t).DB()
	env.mock.ExpectQuery("SELECT * FROM users").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	ctx, parent := env.unit()
	rows, err := db.QueryContext(ctx, "SELECT * FROM users")
	require.NoError(t, err)

	parent.End()
	require.NoError(t, rows.Close())

	s := env.span(t, lifecycle.TruncatedPrefix+"Datastore/statement/MySQL/users/select")
	assert.Equal(t, "true", spanAttrs(s)[lifecycle.AttrTruncated])
	assert.Equal(t, int64(1), env.drv.Manager().Stats().Snapshot().Orphaned)
}

func TestDriver_ConnectSpan(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	pool := env.pool(t)

	ctx, parent := env.unit()
	require.NoError(t, pool.Ping(ctx))
	parent.End()

	connect := env.span(t, "Datastore/operation/MySQL/"+ActionConnect)
	assert.Equal(t, "db1", spanAttrs(connect)[lifecycle.AttrHost])
}

func TestDriver_Connect(t *testing.T) {
	env := newTestEnv(t, uniqueDSN("db1", 3306, "orders"))
	env.mock.ExpectExec("USE inventory").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx, parent := env.unit()
	defer parent.End()

	conn, err := env.drv.Connect(ctx, env.dsn)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "orders", conn.Database())
	_, err = conn.Exec(ctx, "USE inventory")
	require.NoError(t, err)
	assert.Equal(t, "inventory", conn.Database())
	assert.Equal(t, "db1", conn.Info().Host)
}
