package sqlx

import (
	"github.com/jmoiron/sqlx"

	"github.com/kroma-labs/sentinel-mysql/completion"
	"github.com/kroma-labs/sentinel-mysql/lifecycle"
)

// Rows embeds *sqlx.Rows; the operation that produced it finishes when the
// stream ends after its last result set, fails, or is closed.
type Rows struct {
	*sqlx.Rows
	sig *completion.Signal
}

func newRows(rows *sqlx.Rows, h *lifecycle.Handle) *Rows {
	sig := completion.NewSignal()
	completion.Adapt(completion.WithStream(sig), h.Finish)
	return &Rows{Rows: rows, sig: sig}
}

// Next prepares the next row for scanning.
func (r *Rows) Next() bool {
	if r.Rows.Next() {
		return true
	}
	if err := r.Rows.Err(); err != nil {
		r.sig.Fire(err)
	} else if _, err := r.Rows.Columns(); err != nil {
		// database/sql closed the rows after their last result set.
		r.sig.Fire(nil)
	}
	return false
}

// NextResultSet advances to the next result set.
func (r *Rows) NextResultSet() bool {
	if r.Rows.NextResultSet() {
		return true
	}
	r.sig.Fire(r.Rows.Err())
	return false
}

// Close closes the rows.
func (r *Rows) Close() error {
	err := r.Rows.Close()
	r.sig.Fire(err)
	return err
}
