package sql

import (
	"database/sql/driver"
	"errors"
	"io"
	"reflect"

	"github.com/kroma-labs/sentinel-mysql/completion"
)

// Compile-time interface checks.
var (
	_ driver.Rows                           = (*rows)(nil)
	_ driver.RowsNextResultSet              = (*rows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*rows)(nil)
	_ driver.RowsColumnTypeLength           = (*rows)(nil)
	_ driver.RowsColumnTypeNullable         = (*rows)(nil)
	_ driver.RowsColumnTypePrecisionScale   = (*rows)(nil)
	_ driver.RowsColumnTypeScanType         = (*rows)(nil)
)

// rows wraps driver.Rows and fires sig once the stream is done: at the end
// of the last result set, on a read error, or on Close, whichever is first.
type rows struct {
	base driver.Rows
	sig  *completion.Signal
}

// Columns implements driver.Rows.
func (r *rows) Columns() []string {
	return r.base.Columns()
}

// Close implements driver.Rows.
func (r *rows) Close() error {
	err := r.base.Close()
	r.sig.Fire(err)
	return err
}

// Next implements driver.Rows.
func (r *rows) Next(dest []driver.Value) error {
	err := r.base.Next(dest)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		if !r.HasNextResultSet() {
			r.sig.Fire(nil)
		}
	default:
		r.sig.Fire(err)
	}
	return err
}

// HasNextResultSet implements driver.RowsNextResultSet.
func (r *rows) HasNextResultSet() bool {
	if rs, ok := r.base.(driver.RowsNextResultSet); ok {
		return rs.HasNextResultSet()
	}
	return false
}

// NextResultSet implements driver.RowsNextResultSet.
func (r *rows) NextResultSet() error {
	rs, ok := r.base.(driver.RowsNextResultSet)
	if !ok {
		return io.EOF
	}
	err := rs.NextResultSet()
	if err != nil && !errors.Is(err, io.EOF) {
		r.sig.Fire(err)
	}
	return err
}

// ColumnTypeDatabaseTypeName implements driver.RowsColumnTypeDatabaseTypeName.
func (r *rows) ColumnTypeDatabaseTypeName(index int) string {
	if ct, ok := r.base.(driver.RowsColumnTypeDatabaseTypeName); ok {
		return ct.ColumnTypeDatabaseTypeName(index)
	}
	return ""
}

// ColumnTypeLength implements driver.RowsColumnTypeLength.
func (r *rows) ColumnTypeLength(index int) (int64, bool) {
	if ct, ok := r.base.(driver.RowsColumnTypeLength); ok {
		return ct.ColumnTypeLength(index)
	}
	return 0, false
}

// ColumnTypeNullable implements driver.RowsColumnTypeNullable.
func (r *rows) ColumnTypeNullable(index int) (bool, bool) {
	if ct, ok := r.base.(driver.RowsColumnTypeNullable); ok {
		return ct.ColumnTypeNullable(index)
	}
	return false, false
}

// ColumnTypePrecisionScale implements driver.RowsColumnTypePrecisionScale.
func (r *rows) ColumnTypePrecisionScale(index int) (int64, int64, bool) {
	if ct, ok := r.base.(driver.RowsColumnTypePrecisionScale); ok {
		return ct.ColumnTypePrecisionScale(index)
	}
	return 0, 0, false
}

// ColumnTypeScanType implements driver.RowsColumnTypeScanType.
func (r *rows) ColumnTypeScanType(index int) reflect.Type {
	if ct, ok := r.base.(driver.RowsColumnTypeScanType); ok {
		return ct.ColumnTypeScanType(index)
	}
	return reflect.TypeFor[any]()
}
