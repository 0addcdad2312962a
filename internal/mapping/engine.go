// Package mapping propagates a partition table's subdivision levels onto a
// dataset table as restrictions and compound relations.
//
// A mapping is planned first: every precondition is checked and every
// compound arity counted without touching the dataset. Only a plan with no
// violations is applied, so a failed mapping leaves the dataset unchanged.
package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/partition"
	"github.com/martforge/martforge/internal/schema"
)

// RestrictionAlias is the alias the partition restriction binds the real
// column to. When several levels restrict the same real table, every level
// after the first gets the alias suffixed with its level index
// ("partCol2").
const RestrictionAlias = "partCol"

// LevelChoice maps one subdivision level. An empty DatasetColumn leaves
// the level unmapped. PartitionColumn may be qualified ("geo.country") or
// bare; it may be empty when the level has a single column.
type LevelChoice struct {
	PartitionColumn string `json:"partition_column" yaml:"partition_column"`
	DatasetColumn   string `json:"dataset_column" yaml:"dataset_column"`
}

// Request describes one mapping of a partition table onto a dataset table.
type Request struct {
	Table        *partition.Table
	Dataset      *schema.Dataset
	Dimension    string
	NamingColumn string
	Levels       []LevelChoice
}

// RestrictionStep is a restriction the plan will attach.
type RestrictionStep struct {
	Level           int                          `json:"level"`
	PartitionColumn string                       `json:"partition_column"`
	DatasetColumn   string                       `json:"dataset_column"`
	Table           *schema.Table                `json:"-"`
	Column          string                       `json:"column"`
	Definition      schema.RestrictionDefinition `json:"definition"`
}

// CompoundStep is a compound relation the plan will attach.
type CompoundStep struct {
	Level      int                               `json:"level"`
	Relation   *schema.Relation                  `json:"-"`
	Definition schema.CompoundRelationDefinition `json:"definition"`
}

// Plan is a fully validated mapping, ready to apply.
type Plan struct {
	Target         *schema.DatasetTable `json:"-"`
	Partition      *partition.Table     `json:"-"`
	NamingColumn   string               `json:"naming_column"`
	Restrictions   []RestrictionStep    `json:"restrictions"`
	Compounds      []CompoundStep       `json:"compounds"`
	SkippedLevels  []int                `json:"skipped_levels,omitempty"`
	pendingArities []pendingArity
}

type pendingArity struct {
	step  int
	level int
}

// TableRestriction is the restriction a plan attaches to one real table.
type TableRestriction struct {
	Table      *schema.Table                `json:"-"`
	Definition schema.RestrictionDefinition `json:"definition"`
}

// TableRestrictions merges the plan's restrictions per real table, in
// order of first appearance. Levels restricting the same table are joined
// with AND.
func (p *Plan) TableRestrictions() []TableRestriction {
	var out []TableRestriction
	index := make(map[string]int)
	for _, r := range p.Restrictions {
		i, seen := index[r.Table.Name]
		if !seen {
			index[r.Table.Name] = len(out)
			def := r.Definition
			def.Aliases = map[string]string{r.Column: def.Aliases[r.Column]}
			out = append(out, TableRestriction{Table: r.Table, Definition: def})
			continue
		}
		merged := &out[i].Definition
		merged.Aliases[r.Column] = r.Definition.Aliases[r.Column]
		merged.Expression += " AND " + r.Definition.Expression
	}
	return out
}

// Result records an applied mapping.
type Result struct {
	ID        string    `json:"id"`
	Dataset   string    `json:"dataset"`
	Dimension string    `json:"dimension,omitempty"`
	Table     string    `json:"table"`
	Plan      *Plan     `json:"plan"`
	AppliedAt time.Time `json:"applied_at"`
}

// Engine plans and applies partition mappings. Like partition tables, an
// Engine and the datasets it mutates are not safe for concurrent use.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an engine. A nil logger discards output.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{logger: logger}
}

// Candidates returns the qualified columns of pt's top level, which are the
// naming column choices, and the qualified columns of every level.
func Candidates(pt *partition.Table) (naming []string, levels [][]string) {
	levels = pt.QualifiedLevels()
	if len(levels) > 0 {
		naming = append(naming, levels[0]...)
	}
	return naming, levels
}

// violations collects every failed precondition of a plan.
type violations struct {
	messages   []string
	invalid    bool
	unresolved bool
}

func (v *violations) invalidf(format string, args ...interface{}) {
	v.invalid = true
	v.messages = append(v.messages, fmt.Sprintf(format, args...))
}

func (v *violations) unresolvedf(format string, args ...interface{}) {
	v.unresolved = true
	v.messages = append(v.messages, fmt.Sprintf(format, args...))
}

func (v *violations) err() error {
	if len(v.messages) == 0 {
		return nil
	}
	code := apperrors.CodeInvalidMapping
	if !v.invalid {
		code = apperrors.CodeUnresolvedTransformation
	}
	msg := v.messages[0]
	if len(v.messages) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(v.messages)-1)
	}
	return apperrors.NewMappingError(code, msg).WithViolations(v.messages)
}

// Plan validates req and computes the restrictions and compound relations
// it would attach. Nothing is mutated. Every violation found is reported
// in one error; when any of them is a precondition failure the error
// matches ErrInvalidMapping, otherwise ErrUnresolvedTransformation.
//
// A level whose DatasetColumn is empty is skipped; later levels are still
// mapped.
func (e *Engine) Plan(ctx context.Context, req Request) (*Plan, error) {
	var v violations
	if req.Table == nil {
		v.invalidf("no partition table given")
	}
	if req.Dataset == nil {
		v.invalidf("no dataset given")
	}
	if len(v.messages) > 0 {
		return nil, v.err()
	}

	pt := req.Table
	target, err := req.Dataset.Table(req.Dimension)
	if err != nil {
		return nil, err
	}

	naming, levels := Candidates(pt)
	if len(levels) == 0 {
		v.invalidf("partition table %s has no selected columns", pt.Name())
		return nil, v.err()
	}
	if len(req.Levels) > len(levels) {
		v.invalidf("%d level choices given but partition table %s has %d levels",
			len(req.Levels), pt.Name(), len(levels))
	}
	if len(req.Levels) == 0 || req.Levels[0].DatasetColumn == "" {
		v.invalidf("level 0 must map a dataset column")
	}

	plan := &Plan{Target: target, Partition: pt}

	switch {
	case len(naming) == 0:
		v.invalidf("top level of %s has no columns to name partitions by", pt.Name())
	case req.NamingColumn == "":
		plan.NamingColumn = naming[0]
	default:
		nc := qualify(pt, req.NamingColumn)
		if !contains(naming, nc) {
			v.invalidf("naming column %s is not a top level column of %s", req.NamingColumn, pt.Name())
		}
		plan.NamingColumn = nc
	}

	realColumns := make(map[string]int)
	restricted := make(map[string]bool)
	relations := make(map[string]int)
	for i, choice := range req.Levels {
		if i >= len(levels) {
			break
		}
		if choice.DatasetColumn == "" {
			plan.SkippedLevels = append(plan.SkippedLevels, i)
			continue
		}
		if len(levels[i]) == 0 {
			v.invalidf("level %d has no columns", i)
			continue
		}

		ptCol := choice.PartitionColumn
		switch {
		case ptCol == "" && len(levels[i]) == 1:
			ptCol = levels[i][0]
		case ptCol == "":
			v.invalidf("level %d has several columns; choose one of %s", i, strings.Join(levels[i], ", "))
			continue
		default:
			ptCol = qualify(pt, ptCol)
			if !contains(levels[i], ptCol) {
				v.invalidf("partition column %s is not in level %d", choice.PartitionColumn, i)
				continue
			}
		}

		unit, realCol, ok := e.trace(&v, target, choice.DatasetColumn)
		if !ok {
			continue
		}
		realTbl := unit.SourceTable()
		key := realTbl.Name + "." + realCol
		if prev, dup := realColumns[key]; dup {
			v.invalidf("levels %d and %d both restrict %s", prev, i, key)
			continue
		}
		realColumns[key] = i

		join, isJoin := unit.(*schema.Join)
		if isJoin {
			if prev, dup := relations[join.Relation.Name]; dup {
				v.invalidf("levels %d and %d both replicate relation %s", prev, i, join.Relation.Name)
				continue
			}
			relations[join.Relation.Name] = i
		}

		alias := RestrictionAlias
		if restricted[realTbl.Name] {
			alias = fmt.Sprintf("%s%d", RestrictionAlias, i)
		}
		restricted[realTbl.Name] = true

		def := schema.RestrictionDefinition{
			Table:      realTbl.Name,
			Aliases:    map[string]string{realCol: alias},
			Expression: fmt.Sprintf(":%s = '%%%s%%'", alias, ptCol),
			Hard:       true,
		}
		plan.Restrictions = append(plan.Restrictions, RestrictionStep{
			Level:           i,
			PartitionColumn: ptCol,
			DatasetColumn:   choice.DatasetColumn,
			Table:           realTbl,
			Column:          realCol,
			Definition:      def,
		})

		if isJoin {
			plan.Compounds = append(plan.Compounds, CompoundStep{
				Level:    i,
				Relation: join.Relation,
				Definition: schema.CompoundRelationDefinition{
					PartitionDriven: true,
					Partition:       ptCol,
				},
			})
			plan.pendingArities = append(plan.pendingArities, pendingArity{
				step:  len(plan.Compounds) - 1,
				level: i,
			})
		}
	}

	if err := v.err(); err != nil {
		return nil, err
	}
	if err := e.countArities(ctx, plan, &v); err != nil {
		return nil, err
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	return plan, nil
}

// trace finds the single unit producing datasetColumn and the real column
// it maps from.
func (e *Engine) trace(v *violations, target *schema.DatasetTable, datasetColumn string) (schema.Unit, string, bool) {
	producers := target.Producers(datasetColumn)
	switch len(producers) {
	case 0:
		v.unresolvedf("no transformation unit of %s produces column %s", target.Name, datasetColumn)
		return nil, "", false
	case 1:
	default:
		v.unresolvedf("column %s of %s is produced by %d transformation units", datasetColumn, target.Name, len(producers))
		return nil, "", false
	}

	unit := producers[0]
	realTbl := unit.SourceTable()
	realCol, _ := schema.SourceColumn(unit, datasetColumn)
	if realTbl == nil || !realTbl.HasColumn(realCol) {
		v.unresolvedf("column %s of %s maps to unknown source column %s", datasetColumn, target.Name, realCol)
		return nil, "", false
	}
	if join, ok := unit.(*schema.Join); ok && join.Relation == nil {
		v.unresolvedf("join producing %s of %s has no relation", datasetColumn, target.Name)
		return nil, "", false
	}
	return unit, realCol, true
}

// countArities fills in each compound arity with the exact row count of
// the nested table of the level the column was chosen in, anchored at the
// first row of the partition table. A column selected in several levels is
// counted through the chosen level, not its first one. Counting runs on a clone so the caller's cursor is left
// alone.
func (e *Engine) countArities(ctx context.Context, plan *Plan, v *violations) error {
	if len(plan.pendingArities) == 0 {
		return nil
	}

	pt := plan.Partition.Clone()
	defer pt.Close()

	if err := pt.PrepareRows(ctx, "", partition.Unlimited); err != nil {
		return err
	}
	ok, err := pt.NextRow(ctx)
	if err != nil {
		return err
	}
	if !ok {
		v.invalidf("partition table %s has no rows", pt.Name())
		return nil
	}

	for _, p := range plan.pendingArities {
		nested, err := pt.LevelTable(p.level)
		if err != nil {
			return err
		}
		arity, err := nested.CountRows(ctx, "")
		if err != nil {
			return err
		}
		step := &plan.Compounds[p.step]
		if arity == 0 {
			v.invalidf("nested partition table of %s has no rows", step.Definition.Partition)
			continue
		}
		step.Definition.Arity = arity

		e.logger.Debug("mapping: compound arity counted",
			"relation", step.Relation.Name, "partition", step.Definition.Partition, "arity", arity)
	}
	plan.pendingArities = nil
	return nil
}

// Apply plans req and, when the plan is valid, marks the target table as
// partitioned and attaches the plan's restrictions and compound relations.
// Existing partitioning of the target is replaced.
func (e *Engine) Apply(ctx context.Context, req Request) (*Result, error) {
	plan, err := e.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	target := plan.Target
	if target.IsPartitioned() {
		e.logger.Info("mapping: replacing existing partitioning",
			"table", target.Name, "partition", target.PartitionTable().Name())
		target.RemovePartitioning()
	}

	target.Partition(plan.Partition, plan.NamingColumn)
	for _, r := range plan.TableRestrictions() {
		if err := target.RestrictTable(r.Table, r.Definition); err != nil {
			return nil, apperrors.NewInternalError("validated restriction rejected", err)
		}
	}
	for _, c := range plan.Compounds {
		if err := target.CompoundRelation(c.Relation, c.Definition); err != nil {
			return nil, apperrors.NewInternalError("validated compound relation rejected", err)
		}
	}

	result := &Result{
		ID:        uuid.New().String(),
		Dataset:   req.Dataset.Name,
		Dimension: req.Dimension,
		Table:     plan.Partition.Name(),
		Plan:      plan,
		AppliedAt: time.Now(),
	}
	e.logger.Info("mapping: applied",
		"id", result.ID,
		"dataset", result.Dataset,
		"target", target.Name,
		"partition", result.Table,
		"restrictions", len(plan.Restrictions),
		"compounds", len(plan.Compounds),
		"skipped", len(plan.SkippedLevels))
	return result, nil
}

// Remove drops the partitioning of a dataset table, with the restrictions
// and compound relations it brought.
func (e *Engine) Remove(ds *schema.Dataset, dimension string) error {
	target, err := ds.Table(dimension)
	if err != nil {
		return err
	}
	if !target.IsPartitioned() {
		return nil
	}
	e.logger.Info("mapping: partitioning removed",
		"dataset", ds.Name, "target", target.Name, "partition", target.PartitionTable().Name())
	target.RemovePartitioning()
	return nil
}

// qualify prefixes column with the table name unless it already carries
// it. Bare names may themselves contain dots.
func qualify(pt *partition.Table, column string) string {
	if strings.HasPrefix(column, pt.Name()+".") {
		return column
	}
	return pt.Name() + "." + column
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
