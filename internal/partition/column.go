package partition

import (
	"fmt"
	"regexp"

	apperrors "github.com/martforge/martforge/internal/errors"
)

// Column is one column of a partition table. Its value for a row is the raw
// source value, optionally rewritten by a regular expression transform.
type Column struct {
	name  string
	table *Table

	match      *regexp.Regexp
	replace    string
	hasReplace bool
}

func newColumn(name string, table *Table) *Column {
	return &Column{name: name, table: table}
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Table returns the owning partition table.
func (c *Column) Table() *Table { return c.table }

// QualifiedName returns "<table>.<column>".
func (c *Column) QualifiedName() string {
	if c.table == nil {
		return c.name
	}
	return c.table.name + "." + c.name
}

// SetRegexMatch sets the match pattern. An empty pattern clears it. On an
// invalid pattern the previous pattern is kept.
func (c *Column) SetRegexMatch(pattern string) error {
	if pattern == "" {
		c.match = nil
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCategoryPartition, apperrors.CodeInvalidPattern,
			fmt.Sprintf("column %q: invalid match pattern %q", c.name, pattern), err)
	}
	c.match = re
	return nil
}

// SetRegexReplace sets the replacement template, using regexp expansion
// syntax ($1, ${name}).
func (c *Column) SetRegexReplace(template string) {
	c.replace = template
	c.hasReplace = true
}

// ClearRegexReplace removes the replacement template.
func (c *Column) ClearRegexReplace() {
	c.replace = ""
	c.hasReplace = false
}

// RegexMatch returns the match pattern, or "" if none is set.
func (c *Column) RegexMatch() string {
	if c.match == nil {
		return ""
	}
	return c.match.String()
}

// RegexReplace returns the replacement template and whether one is set.
func (c *Column) RegexReplace() (string, bool) {
	return c.replace, c.hasReplace
}

// HasTransform reports whether both halves of the transform are set.
func (c *Column) HasTransform() bool {
	return c.match != nil && c.hasReplace
}

// Validate fails with ErrIncompleteTransform when a match pattern is set
// without a replacement. The setters accept that state; builders that load
// complete definitions call Validate.
func (c *Column) Validate() error {
	if c.match != nil && !c.hasReplace {
		return apperrors.NewPartitionError(apperrors.CodeIncompleteTransform,
			fmt.Sprintf("column %q: match pattern %q has no replacement", c.name, c.match.String()))
	}
	return nil
}

// ValueForRow returns the derived value of this column in row.
func (c *Column) ValueForRow(row *Row) (string, error) {
	if row == nil {
		return "", apperrors.ErrNoCurrentRow
	}
	raw, ok := row.record[c.name]
	if !ok {
		return "", apperrors.NewSourceError(apperrors.CodeDerivationFailed,
			fmt.Sprintf("row %d has no value for column %q", row.number, c.name), nil)
	}
	return c.derive(raw), nil
}

// derive applies the transform. A value the pattern does not match passes
// through unchanged.
func (c *Column) derive(raw string) string {
	if !c.HasTransform() || !c.match.MatchString(raw) {
		return raw
	}
	return c.match.ReplaceAllString(raw, c.replace)
}

// NestedTable returns the nested partition table of the first level this
// column is selected in. Use Table.LevelTable for a column reused by
// later levels.
func (c *Column) NestedTable() (*Table, error) {
	if c.table == nil {
		return nil, apperrors.NewPartitionError(apperrors.CodeUnknownColumn,
			fmt.Sprintf("column %q has no table", c.name))
	}
	level, ok := c.table.LevelOf(c.name)
	if !ok {
		return nil, apperrors.NewPartitionError(apperrors.CodeUnknownColumn,
			fmt.Sprintf("column %q is not selected", c.name))
	}
	return c.table.LevelTable(level)
}

func (c *Column) clone(table *Table) *Column {
	return &Column{
		name:       c.name,
		table:      table,
		match:      c.match,
		replace:    c.replace,
		hasReplace: c.hasReplace,
	}
}
