package partition

import "strings"

// EntryKind distinguishes the two variants of a selection entry.
type EntryKind int

const (
	EntryColumn EntryKind = iota
	EntryDivider
)

// Entry is one element of a table's selection: either a column reference
// or a subdivision divider. The zero value is not a valid entry.
type Entry struct {
	kind EntryKind
	name string
}

// ColumnEntry selects the named column.
func ColumnEntry(name string) Entry {
	return Entry{kind: EntryColumn, name: name}
}

// DividerEntry marks a boundary between two subdivision levels.
func DividerEntry() Entry {
	return Entry{kind: EntryDivider}
}

// Kind returns the variant of the entry.
func (e Entry) Kind() EntryKind { return e.kind }

// IsDivider reports whether e is a subdivision divider.
func (e Entry) IsDivider() bool { return e.kind == EntryDivider }

// Name returns the column name, or "" for a divider.
func (e Entry) Name() string { return e.name }

func (e Entry) String() string {
	if e.IsDivider() {
		return "|"
	}
	return e.name
}

// Selection is an ordered sequence of column and divider entries.
type Selection []Entry

func (s Selection) String() string {
	parts := make([]string, len(s))
	for i, e := range s {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ColumnNames returns the names of the column entries in order.
func (s Selection) ColumnNames() []string {
	names := make([]string, 0, len(s))
	for _, e := range s {
		if !e.IsDivider() {
			names = append(names, e.name)
		}
	}
	return names
}

// SelectionFromLevels builds a selection from per-level column lists,
// placing one divider between consecutive levels. It is the inverse of
// ResolveLevels.
func SelectionFromLevels(levels [][]string) Selection {
	var sel Selection
	for i, cols := range levels {
		if i > 0 {
			sel = append(sel, DividerEntry())
		}
		for _, c := range cols {
			sel = append(sel, ColumnEntry(c))
		}
	}
	return sel
}

// Level is one subdivision level: the columns between two dividers.
type Level struct {
	Index   int
	Columns []string
}

// ResolveLevels splits a selection into subdivision levels. An empty
// selection has no levels. Otherwise there is one level more than there
// are dividers, and adjacent, leading or trailing dividers produce levels
// with no columns.
func ResolveLevels(sel Selection) []Level {
	if len(sel) == 0 {
		return nil
	}
	levels := []Level{{Index: 0, Columns: []string{}}}
	for _, e := range sel {
		if e.IsDivider() {
			levels = append(levels, Level{Index: len(levels), Columns: []string{}})
			continue
		}
		last := &levels[len(levels)-1]
		last.Columns = append(last.Columns, e.name)
	}
	return levels
}
