package testutil

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rows is a canned pgx.Rows. Values are returned as given; Scan supports
// pgx.RowScanner destinations (used by pgx.RowToMap) and plain pointers to any.
type Rows struct {
	fields []pgconn.FieldDescription
	values [][]any
	tag    pgconn.CommandTag

	errAt   int
	failErr error

	pos    int
	closed bool
	err    error
}

var _ pgx.Rows = (*Rows)(nil)

// NewRows builds rows for the named columns. Columns are reported as text
// (OID 25) unless overridden with WithFields.
func NewRows(columns []string, values [][]any) *Rows {
	fields := make([]pgconn.FieldDescription, len(columns))
	for i, name := range columns {
		fields[i] = pgconn.FieldDescription{
			Name:                 name,
			TableAttributeNumber: uint16(i + 1),
			DataTypeOID:          25,
			DataTypeSize:         -1,
			TypeModifier:         -1,
		}
	}
	return &Rows{
		fields: fields,
		values: values,
		tag:    pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(values))),
		errAt:  -1,
		pos:    -1,
	}
}

// WithFields replaces the field descriptors.
func (r *Rows) WithFields(fields []pgconn.FieldDescription) *Rows {
	r.fields = fields
	return r
}

// WithCommandTag replaces the command tag reported after iteration.
func (r *Rows) WithCommandTag(tag string) *Rows {
	r.tag = pgconn.NewCommandTag(tag)
	return r
}

// FailAt makes iteration stop with err when row i is reached.
func (r *Rows) FailAt(i int, err error) *Rows {
	r.errAt = i
	r.failErr = err
	return r
}

// Closed reports whether Close has been called.
func (r *Rows) Closed() bool { return r.closed }

func (r *Rows) Close() { r.closed = true }

func (r *Rows) Err() error { return r.err }

func (r *Rows) CommandTag() pgconn.CommandTag { return r.tag }

func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }

func (r *Rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	r.pos++
	if r.errAt >= 0 && r.pos == r.errAt {
		r.err = r.failErr
		r.closed = true
		return false
	}
	if r.pos >= len(r.values) {
		r.closed = true
		return false
	}
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.values) {
		return errors.New("testutil: Scan called without a current row")
	}
	if len(dest) == 1 {
		if rs, ok := dest[0].(pgx.RowScanner); ok {
			return rs.ScanRow(r)
		}
	}
	row := r.values[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("testutil: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		p, ok := d.(*any)
		if !ok {
			return fmt.Errorf("testutil: unsupported destination %T", d)
		}
		*p = row[i]
	}
	return nil
}

func (r *Rows) Values() ([]any, error) {
	if r.pos < 0 || r.pos >= len(r.values) {
		return nil, errors.New("testutil: Values called without a current row")
	}
	return append([]any(nil), r.values[r.pos]...), nil
}

func (r *Rows) RawValues() [][]byte { return nil }

func (r *Rows) Conn() *pgx.Conn { return nil }
