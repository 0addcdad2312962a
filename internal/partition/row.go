package partition

import (
	"fmt"

	apperrors "github.com/martforge/martforge/internal/errors"
)

// Row is a snapshot of one row produced by a table's iteration protocol.
type Row struct {
	table  *Table
	number int
	record Record
}

// Table returns the table that produced the row.
func (r *Row) Table() *Table { return r.table }

// Number returns the 0-based position of the row in its pass.
func (r *Row) Number() int { return r.number }

// Raw returns the untransformed source value of column.
func (r *Row) Raw(column string) (string, bool) {
	v, ok := r.record[column]
	return v, ok
}

// Value returns the derived value of column.
func (r *Row) Value(column string) (string, error) {
	col, ok := r.table.columns[column]
	if !ok {
		return "", apperrors.NewPartitionError(apperrors.CodeUnknownColumn,
			fmt.Sprintf("table %q has no column %q", r.table.name, column))
	}
	return col.ValueForRow(r)
}

// Values returns the derived values of columns in order.
func (r *Row) Values(columns []string) ([]string, error) {
	out := make([]string, len(columns))
	for i, c := range columns {
		v, err := r.Value(c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
