package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	apperrors "github.com/martforge/martforge/internal/errors"
)

// RestrictionDefinition is a where-clause on a real table. Aliases maps
// real column names to the aliases the expression uses (written ":alias").
// Partition values appear in the expression as %<table>.<column>%
// placeholders. A hard restriction applies on every access path.
type RestrictionDefinition struct {
	Table      string            `json:"table"`
	Aliases    map[string]string `json:"aliases"`
	Expression string            `json:"expression"`
	Hard       bool              `json:"hard"`
}

// A placeholder is %<table>.<column>%. The table name holds no dot; the
// column name may hold anything but a percent sign.
var placeholderPattern = regexp.MustCompile(`%([^%.]+\.[^%]+)%`)

// Validate checks that the expression and aliases are present.
func (r RestrictionDefinition) Validate() error {
	if strings.TrimSpace(r.Expression) == "" {
		return apperrors.NewMappingError(apperrors.CodeInvalidMapping, "restriction has no expression")
	}
	if len(r.Aliases) == 0 {
		return apperrors.NewMappingError(apperrors.CodeInvalidMapping, "restriction has no aliases")
	}
	return nil
}

// Substitute replaces each ":alias" in the expression with
// "<prefix>.<column>".
func (r RestrictionDefinition) Substitute(prefix string) string {
	return r.substitute(r.Expression, prefix)
}

// Resolve replaces partition placeholders with values keyed by qualified
// partition column, then substitutes aliases. Values are quoted for use
// inside a string literal. A placeholder without a value fails with
// ErrInvalidMapping.
func (r RestrictionDefinition) Resolve(prefix string, values map[string]string) (string, error) {
	var missing []string
	expr := placeholderPattern.ReplaceAllStringFunc(r.Expression, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := values[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return strings.ReplaceAll(v, "'", "''")
	})
	if len(missing) > 0 {
		return "", apperrors.NewMappingError(apperrors.CodeInvalidMapping,
			fmt.Sprintf("no value for partition column(s) %s", strings.Join(missing, ", ")))
	}
	return r.substitute(expr, prefix), nil
}

// Placeholders returns the qualified partition columns the expression
// refers to, in order of appearance.
func (r RestrictionDefinition) Placeholders() []string {
	var out []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(r.Expression, -1) {
		out = append(out, m[1])
	}
	return out
}

// References reports whether the expression uses a column of the named
// partition table.
func (r RestrictionDefinition) References(partitionTable string) bool {
	for _, p := range r.Placeholders() {
		if strings.HasPrefix(p, partitionTable+".") {
			return true
		}
	}
	return false
}

func (r RestrictionDefinition) substitute(expr, prefix string) string {
	// Longest alias first so ":a" never eats the head of ":ab".
	cols := make([]string, 0, len(r.Aliases))
	for col := range r.Aliases {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool {
		ai, aj := r.Aliases[cols[i]], r.Aliases[cols[j]]
		if len(ai) != len(aj) {
			return len(ai) > len(aj)
		}
		return ai < aj
	})
	for _, col := range cols {
		expr = strings.ReplaceAll(expr, ":"+r.Aliases[col], prefix+"."+col)
	}
	return expr
}

func (r RestrictionDefinition) clone() RestrictionDefinition {
	aliases := make(map[string]string, len(r.Aliases))
	for k, v := range r.Aliases {
		aliases[k] = v
	}
	r.Aliases = aliases
	return r
}

// CompoundRelationDefinition replicates a relation Arity times. A
// partition-driven definition takes one instance per row of the nested
// partition table named by Partition, a qualified partition column.
type CompoundRelationDefinition struct {
	Arity           int    `json:"arity"`
	PartitionDriven bool   `json:"partition_driven"`
	Partition       string `json:"partition,omitempty"`
}

// References reports whether Partition is a column of the named
// partition table.
func (c CompoundRelationDefinition) References(partitionTable string) bool {
	return strings.HasPrefix(c.Partition, partitionTable+".")
}
