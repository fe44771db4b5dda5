package sql

import (
	"database/sql/driver"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kroma-labs/sentinel-mysql/completion"
)

// fakeRows yields n rows, then io.EOF, or err in place of the last row.
type fakeRows struct {
	n      int
	err    error
	closed int
}

func (r *fakeRows) Columns() []string { return []string{"id"} }

func (r *fakeRows) Close() error {
	r.closed++
	return nil
}

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.n == 0 {
		return io.EOF
	}
	r.n--
	if r.n == 0 && r.err != nil {
		return r.err
	}
	dest[0] = int64(r.n)
	return nil
}

func TestRows_Signal(t *testing.T) {
	errRead := errors.New("read failed")

	tests := []struct {
		name    string
		rows    *fakeRows
		drive   func(r *rows)
		wantErr error
	}{
		{
			name: "given rows read to EOF, then fires without error",
			rows: &fakeRows{n: 2},
			drive: func(r *rows) {
				dest := make([]driver.Value, 1)
				for r.Next(dest) == nil {
				}
			},
		},
		{
			name: "given a read error, then fires with it",
			rows: &fakeRows{n: 2, err: errRead},
			drive: func(r *rows) {
				dest := make([]driver.Value, 1)
				for r.Next(dest) == nil {
				}
			},
			wantErr: errRead,
		},
		{
			name: "given early close, then fires on close",
			rows: &fakeRows{n: 2},
			drive: func(r *rows) {
				_ = r.Close()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			var got error
			sig := completion.NewSignal()
			sig.OnDone(func(err error) {
				calls++
				got = err
			})
			r := &rows{base: tt.rows, sig: sig}

			tt.drive(r)
			_ = r.Close()

			assert.Equal(t, 1, calls)
			assert.ErrorIs(t, got, tt.wantErr)
			if tt.wantErr == nil {
				assert.NoError(t, got)
			}
		})
	}
}

func TestRows_Passthrough_Defaults(t *testing.T) {
	r := &rows{base: &fakeRows{}, sig: completion.NewSignal()}

	assert.False(t, r.HasNextResultSet())
	assert.ErrorIs(t, r.NextResultSet(), io.EOF)
	assert.Equal(t, "", r.ColumnTypeDatabaseTypeName(0))
	assert.Equal(t, reflect.TypeFor[any](), r.ColumnTypeScanType(0))

	_, ok := r.ColumnTypeLength(0)
	assert.False(t, ok)
	_, ok = r.ColumnTypeNullable(0)
	assert.False(t, ok)
	_, _, ok = r.ColumnTypePrecisionScale(0)
	assert.False(t, ok)
}
