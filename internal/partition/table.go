// Package partition implements partition tables: named collections of
// columns drawn from a row source, a selection that splits the chosen
// columns into subdivision levels, and a cursor protocol for walking the
// table's rows.
//
// A Table is not safe for concurrent use. Use Clone to obtain an
// independent cursor over the same source.
package partition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/filter"
)

// Unlimited requests every row from PrepareRows.
const Unlimited = -1

type cursorState int

const (
	stateUnprepared cursorState = iota
	statePrepared
	stateAdvanced
	stateExhausted
	stateFailed
)

func (s cursorState) String() string {
	switch s {
	case stateUnprepared:
		return "unprepared"
	case statePrepared:
		return "prepared"
	case stateAdvanced:
		return "advanced"
	case stateExhausted:
		return "exhausted"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Table is a partition table.
type Table struct {
	name      string
	source    RowSource
	columns   map[string]*Column
	order     []string
	selection Selection
	logger    *slog.Logger

	// cursor
	state   cursorState
	where   filter.Expression
	iter    RowIterator
	current *Row
	count   int
	err     error
}

// NewTable creates a table over src. Its columns are src.Columns(), in
// that order, and its selection is empty. A nil logger discards output.
func NewTable(name string, src RowSource, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Table{
		name:    name,
		source:  src,
		columns: make(map[string]*Column),
		logger:  logger,
	}
	for _, c := range src.Columns() {
		if _, dup := t.columns[c]; dup {
			continue
		}
		t.columns[c] = newColumn(c, t)
		t.order = append(t.order, c)
	}
	return t
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Source returns the table's row source.
func (t *Table) Source() RowSource { return t.source }

// AllColumnNames returns every available column in insertion order.
func (t *Table) AllColumnNames() []string {
	names := make([]string, len(t.order))
	copy(names, t.order)
	return names
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, error) {
	col, ok := t.columns[name]
	if !ok {
		return nil, apperrors.NewPartitionError(apperrors.CodeUnknownColumn,
			fmt.Sprintf("table %q has no column %q", t.name, name))
	}
	return col, nil
}

// RemoveColumn drops a column from the table and from the selection.
func (t *Table) RemoveColumn(name string) error {
	if _, err := t.Column(name); err != nil {
		return err
	}
	delete(t.columns, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	sel := t.selection[:0:0]
	for _, e := range t.selection {
		if !e.IsDivider() && e.name == name {
			continue
		}
		sel = append(sel, e)
	}
	t.selection = sel
	return nil
}

// SetSelection replaces the selection. Every column entry must name an
// available column and no column may appear twice within one level;
// different levels may reuse a column. On error the previous selection is
// kept.
func (t *Table) SetSelection(entries ...Entry) error {
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDivider() {
			seen = make(map[string]bool)
			continue
		}
		if _, ok := t.columns[e.name]; !ok {
			return apperrors.NewPartitionError(apperrors.CodeUnknownColumn,
				fmt.Sprintf("table %q has no column %q", t.name, e.name))
		}
		if seen[e.name] {
			return apperrors.NewPartitionError(apperrors.CodeDuplicateColumn,
				fmt.Sprintf("column %q selected twice in one level", e.name))
		}
		seen[e.name] = true
	}
	t.selection = append(Selection(nil), entries...)
	return nil
}

// Selection returns a copy of the current selection.
func (t *Table) Selection() Selection {
	return append(Selection(nil), t.selection...)
}

// SelectedColumnNames returns the selected columns without dividers.
func (t *Table) SelectedColumnNames() []string {
	return t.selection.ColumnNames()
}

// Levels resolves the current selection into subdivision levels.
func (t *Table) Levels() []Level {
	return ResolveLevels(t.selection)
}

// QualifiedLevels returns the "<table>.<column>" names of each level.
func (t *Table) QualifiedLevels() [][]string {
	levels := t.Levels()
	out := make([][]string, len(levels))
	for i, l := range levels {
		out[i] = make([]string, len(l.Columns))
		for j, c := range l.Columns {
			out[i][j] = t.name + "." + c
		}
	}
	return out
}

// LevelOf returns the index of the first level that selects column.
func (t *Table) LevelOf(column string) (int, bool) {
	for _, l := range t.Levels() {
		for _, c := range l.Columns {
			if c == column {
				return l.Index, true
			}
		}
	}
	return 0, false
}

// Clone returns an independent table over the same source with copies of
// the columns, their transforms and the selection. The clone's cursor is
// unprepared.
func (t *Table) Clone() *Table {
	c := &Table{
		name:      t.name,
		source:    t.source,
		columns:   make(map[string]*Column, len(t.columns)),
		order:     append([]string(nil), t.order...),
		selection: t.Selection(),
		logger:    t.logger,
	}
	for name, col := range t.columns {
		c.columns[name] = col.clone(c)
	}
	return c
}

// PrepareRows starts a new pass over the rows matching filterExpr (""
// matches everything), yielding at most limit rows. limit must be
// positive or Unlimited. Any previous pass is discarded.
func (t *Table) PrepareRows(ctx context.Context, filterExpr string, limit int) error {
	if limit != Unlimited && limit <= 0 {
		return apperrors.NewPartitionError(apperrors.CodeInvalidLimit,
			fmt.Sprintf("row limit must be positive or unlimited, got %d", limit))
	}
	where, err := filter.Parse(filterExpr)
	if err != nil {
		return apperrors.NewSourceError(apperrors.CodeInvalidFilter,
			fmt.Sprintf("cannot parse filter %q", filterExpr), err)
	}

	t.reset()
	if err := ctx.Err(); err != nil {
		return t.fail(cancelled(err))
	}

	iter, err := t.source.Scan(ctx, where, limit)
	if err != nil {
		return t.fail(t.sourceError(err))
	}
	t.iter = iter
	t.where = where
	t.state = statePrepared

	t.logger.Debug("partition: rows prepared",
		"table", t.name, "filter", filterExpr, "limit", limit)
	return nil
}

// NextRow advances to the next row. It returns false once the rows are
// exhausted. Every selected column is derived for the new row, so a
// derivation failure aborts the pass.
func (t *Table) NextRow(ctx context.Context) (bool, error) {
	switch t.state {
	case stateUnprepared:
		return false, apperrors.ErrNotPrepared
	case stateFailed:
		return false, t.err
	case stateExhausted:
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return false, t.fail(cancelled(err))
	}

	rec, err := t.iter.Next(ctx)
	if errors.Is(err, io.EOF) {
		t.logger.Debug("partition: rows exhausted", "table", t.name, "rows", t.count)
		t.closeIter()
		t.current = nil
		t.state = stateExhausted
		return false, nil
	}
	if err != nil {
		return false, t.fail(t.sourceError(err))
	}

	row := &Row{table: t, number: t.count, record: rec}
	for _, name := range t.selection.ColumnNames() {
		col, ok := t.columns[name]
		if !ok {
			continue
		}
		if _, err := col.ValueForRow(row); err != nil {
			return false, t.fail(err)
		}
	}

	t.current = row
	t.count++
	t.state = stateAdvanced
	return true, nil
}

// NudgeRow advances by one row. It is the same operation as NextRow.
func (t *Table) NudgeRow(ctx context.Context) (bool, error) {
	return t.NextRow(ctx)
}

// CurrentRow returns the row the cursor is on.
func (t *Table) CurrentRow() (*Row, error) {
	if t.state != stateAdvanced || t.current == nil {
		return nil, apperrors.ErrNoCurrentRow
	}
	return t.current, nil
}

// Close releases the open scan and returns the cursor to unprepared.
func (t *Table) Close() error {
	err := t.closeIter()
	t.reset()
	return err
}

// CountRows returns the exact number of rows matching filterExpr. It runs
// on a clone and leaves this table's cursor untouched.
func (t *Table) CountRows(ctx context.Context, filterExpr string) (int, error) {
	c := t.Clone()
	defer c.Close()

	if err := c.PrepareRows(ctx, filterExpr, Unlimited); err != nil {
		return 0, err
	}
	n := 0
	for {
		ok, err := c.NextRow(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// Preview returns the derived values of the selected columns for up to
// limit rows matching filterExpr. It runs on a clone.
func (t *Table) Preview(ctx context.Context, filterExpr string, limit int) ([][]string, error) {
	c := t.Clone()
	defer c.Close()

	if err := c.PrepareRows(ctx, filterExpr, limit); err != nil {
		return nil, err
	}
	cols := c.SelectedColumnNames()
	var out [][]string
	for {
		ok, err := c.NextRow(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		row, err := c.CurrentRow()
		if err != nil {
			return nil, err
		}
		values, err := row.Values(cols)
		if err != nil {
			return nil, err
		}
		out = append(out, values)
	}
}

func (t *Table) reset() {
	t.closeIter()
	t.state = stateUnprepared
	t.where = nil
	t.current = nil
	t.count = 0
	t.err = nil
}

func (t *Table) closeIter() error {
	if t.iter == nil {
		return nil
	}
	err := t.iter.Close()
	t.iter = nil
	return err
}

// fail moves the cursor to the failed state. The error is returned by every
// later NextRow until the rows are prepared again.
func (t *Table) fail(err error) error {
	t.closeIter()
	t.current = nil
	t.state = stateFailed
	t.err = err
	t.logger.Debug("partition: pass failed", "table", t.name, "error", err)
	return err
}

func (t *Table) sourceError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cancelled(err)
	}
	var me *apperrors.MartError
	if errors.As(err, &me) {
		return err
	}
	return apperrors.NewSourceError(apperrors.CodeDerivationFailed,
		fmt.Sprintf("table %q: row source failed", t.name), err)
}

func cancelled(cause error) error {
	return apperrors.Wrap(apperrors.ErrCategoryPartition, apperrors.CodeCancelled, "iteration cancelled", cause)
}
