package sql

import (
	"database/sql"

	"github.com/kroma-labs/sentinel-mysql/completion"
	"github.com/kroma-labs/sentinel-mysql/lifecycle"
)

// Record is one materialized result row, keyed by column name.
type Record map[string]any

// callback runs op on a new goroutine. h finishes with the outcome before fn
// receives it; fn may be nil.
func callback[T any](h *lifecycle.Handle, op func() (T, error), fn func(T, error)) {
	var val T
	done := completion.Adapt(completion.WithCallback(func(err error) {
		if fn != nil {
			fn(val, err)
		}
	}), h.Finish)

	go func() {
		var err error
		val, err = op()
		done(err)
	}()
}

// deferred runs op on a new goroutine and returns a future that resolves
// with its outcome once h finished.
func deferred[T any](h *lifecycle.Handle, op func() (T, error)) *completion.Future[T] {
	f, resolve := completion.NewFuture[T]()
	completion.Adapt(completion.WithDeferred(f), h.Finish)

	go func() {
		resolve(op())
	}()
	return f
}

// readRecords drains and closes rs.
func readRecords(rs *sql.Rows) ([]Record, error) {
	defer rs.Close()

	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}

	var out []Record
	for rs.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			rec[col] = values[i]
		}
		out = append(out, rec)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return out, rs.Close()
}
