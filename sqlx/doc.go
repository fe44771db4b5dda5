// Package sqlx wraps jmoiron/sqlx on an instrumented pool.
//
// # Features
//
//   - Operation spans for the sqlx helpers (DB#get, DB#select, Tx#get, ...)
//     with the statement spans of the pool nested beneath them
//   - Struct scanning and named parameter binding from sqlx
//   - Streaming rows that finish their operation exactly once
//   - Connection pool metrics
//
// # Quick Start
//
//	import (
//	    _ "github.com/go-sql-driver/mysql"
//	    sentinelsqlx "github.com/kroma-labs/sentinel-mysql/sqlx"
//	)
//
//	db, err := sentinelsqlx.Open("mysql", "app@tcp(db1:3306)/orders")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// # Struct Scanning
//
//	type User struct {
//	    ID   int    `db:"id"`
//	    Name string `db:"name"`
//	}
//
//	var user User
//	err := db.GetContext(ctx, &user, "SELECT id, name FROM users WHERE id = ?", 1)
//
//	var users []User
//	err = db.SelectContext(ctx, &users, "SELECT id, name FROM users")
//
// # Wrapping an Existing Pool
//
//	drv, _ := sentinelsql.Install(&mysql.MySQLDriver{}, sentinelsql.KindCallback)
//	pool, _ := drv.OpenPool(dsn)
//	db := sentinelsqlx.NewDB(pool, "mysql")
//
// sql.ErrNoRows from GetContext is returned to the caller but does not mark
// the operation span failed.
package sqlx
