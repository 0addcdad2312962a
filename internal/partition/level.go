package partition

import (
	"context"
	"fmt"
	"io"

	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/filter"
	"github.com/spaolacci/murmur3"
)

// LevelTable returns the nested partition table of level i. Its rows are
// the distinct combinations of the derived values of the columns in levels
// 0..i, in order of first occurrence. For i > 0 only rows agreeing with the
// parent's current row on levels 0..i-1 are considered; the anchor is read
// when the nested table is prepared, so the nested table follows the
// parent's cursor.
//
// Scans of the nested table honour the filter of the parent's latest pass.
func (t *Table) LevelTable(i int) (*Table, error) {
	levels := t.Levels()
	if i < 0 || i >= len(levels) {
		return nil, apperrors.NewPartitionError(apperrors.CodeUnknownColumn,
			fmt.Sprintf("table %q has no level %d", t.name, i))
	}

	var columns, anchor []string
	for _, l := range levels[:i+1] {
		columns = append(columns, l.Columns...)
		if l.Index < i {
			anchor = append(anchor, l.Columns...)
		}
	}

	src := &levelSource{parent: t, level: i, columns: columns, anchor: anchor}
	nested := NewTable(t.name, src, t.logger)

	sel := make([][]string, i+1)
	for j, l := range levels[:i+1] {
		sel[j] = l.Columns
	}
	if err := nested.SetSelection(SelectionFromLevels(sel)...); err != nil {
		return nil, err
	}
	return nested, nil
}

// levelSource yields the distinct value combinations of a parent table's
// leading levels.
type levelSource struct {
	parent  *Table
	level   int
	columns []string
	anchor  []string
}

func (s *levelSource) Columns() []string {
	return append([]string(nil), s.columns...)
}

func (s *levelSource) Scan(ctx context.Context, where filter.Expression, limit int) (RowIterator, error) {
	if err := CheckFilter(s.columns, where); err != nil {
		return nil, err
	}

	var anchorValues []string
	if s.level > 0 {
		row, err := s.parent.CurrentRow()
		if err != nil {
			return nil, err
		}
		anchorValues, err = row.Values(s.anchor)
		if err != nil {
			return nil, err
		}
	}

	inner, err := s.parent.source.Scan(ctx, s.parent.where, Unlimited)
	if err != nil {
		return nil, err
	}
	cols := make([]*Column, len(s.columns))
	for i, name := range s.columns {
		col, err := s.parent.Column(name)
		if err != nil {
			inner.Close()
			return nil, err
		}
		cols[i] = col
	}

	return &levelIterator{
		inner:        inner,
		cols:         cols,
		anchorLen:    len(s.anchor),
		anchorValues: anchorValues,
		where:        where,
		limit:        limit,
		seen:         make(map[uint64][][]string),
	}, nil
}

type levelIterator struct {
	inner        RowIterator
	cols         []*Column
	anchorLen    int
	anchorValues []string
	where        filter.Expression
	limit        int
	emitted      int
	seen         map[uint64][][]string
}

func (it *levelIterator) Next(ctx context.Context) (Record, error) {
	for {
		if it.limit != Unlimited && it.emitted >= it.limit {
			return nil, io.EOF
		}
		raw, err := it.inner.Next(ctx)
		if err != nil {
			return nil, err
		}

		values := make([]string, len(it.cols))
		for i, col := range it.cols {
			v, ok := raw[col.name]
			if !ok {
				return nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
					fmt.Sprintf("row has no value for column %q", col.name), nil)
			}
			values[i] = col.derive(v)
		}
		if !equalValues(values[:it.anchorLen], it.anchorValues) {
			continue
		}
		if !it.remember(values) {
			continue
		}

		rec := make(Record, len(values))
		for i, col := range it.cols {
			rec[col.name] = values[i]
		}
		ok, err := filter.Eval(it.where, rec)
		if err != nil {
			return nil, apperrors.NewSourceError(apperrors.CodeInvalidFilter, "filter evaluation failed", err)
		}
		if !ok {
			continue
		}
		it.emitted++
		return rec, nil
	}
}

// remember records values and reports whether they were new.
func (it *levelIterator) remember(values []string) bool {
	key := hashValues(values)
	for _, prev := range it.seen[key] {
		if equalValues(prev, values) {
			return false
		}
	}
	it.seen[key] = append(it.seen[key], values)
	return true
}

func (it *levelIterator) Close() error {
	if it.inner == nil {
		return nil
	}
	err := it.inner.Close()
	it.inner = nil
	return err
}

func hashValues(values []string) uint64 {
	h := murmur3.New64()
	for _, v := range values {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
