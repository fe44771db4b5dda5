// Package sql instruments MySQL clients built on database/sql with
// datastore spans.
//
// # Features
//
//   - A span per statement, named Datastore/statement/<engine>/<table>/<verb>
//   - Operation spans for pool and cluster actions (Pool#query,
//     PoolCluster#getConnection, Connection#commit, ...)
//   - Spans only inside an existing trace; nothing is recorded without one
//   - host, port_path_or_id and database_name attributes with runtime toggles
//   - Per-connection tracking of the database selected with USE
//   - Callback, future and row-stream completion, each finishing exactly once
//   - Pool clusters with named groups, NAME* selectors and ORDER or RANDOM
//     selection
//
// # Quick Start
//
// Open an instrumented pool on a registered driver:
//
//	import (
//	    _ "github.com/go-sql-driver/mysql"
//	    sentinelsql "github.com/kroma-labs/sentinel-mysql/sql"
//	)
//
//	pool, err := sentinelsql.Open("mysql", "app:secret@tcp(db1:3306)/orders")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	ctx, span := tracer.Start(ctx, "checkout")
//	defer span.End()
//	rows, err := pool.Query(ctx, "SELECT * FROM orders WHERE id = ?", 42)
//
// # Driver Installation
//
// Install is idempotent: installing a driver, or its wrapper, again returns
// the wrapper from the first install so statements are never traced twice.
//
//	drv, _ := sentinelsql.Install(&mysql.MySQLDriver{}, sentinelsql.KindCallback)
//	conn, _ := drv.Connect(ctx, dsn)      // one connection
//	pool, _ := drv.OpenPool(dsn)          // a pool
//	cluster := drv.NewCluster()           // a pool cluster
//
// To keep using *sql.DB directly, register the wrapper under a new name:
//
//	_, err := sentinelsql.Register("mysql-traced", &mysql.MySQLDriver{}, sentinelsql.KindCallback)
//	db, _ := sql.Open("mysql-traced", dsn)
//
// # Completion Styles
//
// Every pool operation comes in three styles. The span finishes when the
// operation really completes, never when the method returns:
//
//	rows, err := pool.Query(ctx, q)                 // stream: on EOF, error or Close
//	pool.QueryFunc(ctx, func(r []Record, err error) {...}, q) // callback: before fn runs
//	records, err := pool.QueryAsync(ctx, q).Await(ctx)       // future: before it resolves
//
// # Observability
//
// Traces:
//   - Statement and operation spans as described above
//   - Attributes: db.system, db.statement, db.operation, db.collection,
//     host, port_path_or_id, database_name, db.cluster.group
//
// Metrics:
//   - db.client.operation.duration (histogram by operation)
//   - db.client.connections.* (pool gauges, see RecordPoolMetrics)
package sql
