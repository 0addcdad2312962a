package partition

import (
	"context"
	"fmt"
	"io"

	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/filter"
)

// Record is one raw row keyed by column name.
type Record map[string]string

// RowSource produces the raw rows a Table iterates over.
type RowSource interface {
	// Columns returns the available column names in their natural order.
	Columns() []string

	// Scan starts a pass over the rows matching where (nil = all rows),
	// stopping after limit rows unless limit is Unlimited.
	Scan(ctx context.Context, where filter.Expression, limit int) (RowIterator, error)
}

// RowIterator streams the rows of one scan.
type RowIterator interface {
	// Next returns the next row, or io.EOF when the scan is done.
	Next(ctx context.Context) (Record, error)
	Close() error
}

// CheckFilter rejects filters that reference columns the source lacks.
func CheckFilter(columns []string, where filter.Expression) error {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	for _, c := range filter.Columns(where) {
		if !known[c] {
			return apperrors.NewSourceError(apperrors.CodeInvalidFilter,
				fmt.Sprintf("filter references unknown column %q", c), nil)
		}
	}
	return nil
}

// CollectionSource serves an explicit, in-memory collection of rows.
type CollectionSource struct {
	columns []string
	rows    []Record
}

// NewCollectionSource creates a source over rows. The slices are copied.
func NewCollectionSource(columns []string, rows []Record) *CollectionSource {
	cols := make([]string, len(columns))
	copy(cols, columns)
	copied := make([]Record, len(rows))
	for i, r := range rows {
		rec := make(Record, len(r))
		for k, v := range r {
			rec[k] = v
		}
		copied[i] = rec
	}
	return &CollectionSource{columns: cols, rows: copied}
}

// NewSingleValueSource creates a source with exactly one row holding value
// in column.
func NewSingleValueSource(column, value string) *CollectionSource {
	return NewCollectionSource([]string{column}, []Record{{column: value}})
}

// Columns implements RowSource.
func (s *CollectionSource) Columns() []string {
	cols := make([]string, len(s.columns))
	copy(cols, s.columns)
	return cols
}

// Len returns the number of rows in the collection.
func (s *CollectionSource) Len() int {
	return len(s.rows)
}

// Scan implements RowSource.
func (s *CollectionSource) Scan(ctx context.Context, where filter.Expression, limit int) (RowIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckFilter(s.columns, where); err != nil {
		return nil, err
	}
	return &collectionIterator{rows: s.rows, where: where, limit: limit}, nil
}

type collectionIterator struct {
	rows    []Record
	where   filter.Expression
	limit   int
	pos     int
	emitted int
}

func (it *collectionIterator) Next(ctx context.Context) (Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if it.limit != Unlimited && it.emitted >= it.limit {
			return nil, io.EOF
		}
		if it.pos >= len(it.rows) {
			return nil, io.EOF
		}
		rec := it.rows[it.pos]
		it.pos++

		ok, err := filter.Eval(it.where, rec)
		if err != nil {
			return nil, apperrors.NewSourceError(apperrors.CodeInvalidFilter,
				"filter evaluation failed", err)
		}
		if !ok {
			continue
		}
		it.emitted++
		return rec, nil
	}
}

func (it *collectionIterator) Close() error {
	it.rows = nil
	return nil
}
