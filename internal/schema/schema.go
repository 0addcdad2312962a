// Package schema models the target side of a partition mapping: real
// tables and relations, dataset tables built from them by transformation
// units, and the restriction and compound-relation definitions attached to
// a dataset table when it is partitioned.
package schema

import (
	"fmt"
	"sort"

	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/partition"
)

// Table is a real source table.
type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []string `json:"columns" yaml:"columns"`
}

// HasColumn reports whether the table has a column called name.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Relation is a foreign-key relation between two real tables.
type Relation struct {
	Name       string `json:"name" yaml:"name"`
	FromTable  string `json:"from_table" yaml:"from_table"`
	FromColumn string `json:"from_column" yaml:"from_column"`
	ToTable    string `json:"to_table" yaml:"to_table"`
	ToColumn   string `json:"to_column" yaml:"to_column"`
}

func (r *Relation) String() string {
	return fmt.Sprintf("%s(%s.%s -> %s.%s)", r.Name, r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
}

// Unit is a transformation unit: one step of a dataset table's pipeline
// that brings real columns in under dataset column names. The two
// implementations are *SelectFrom and *Join.
type Unit interface {
	// SourceTable is the real table the unit reads.
	SourceTable() *Table
	// ColumnMap maps dataset column names to source column names.
	ColumnMap() map[string]string
	unit()
}

// SelectFrom projects columns straight from one real table.
type SelectFrom struct {
	Table   *Table
	Columns map[string]string
}

func (u *SelectFrom) SourceTable() *Table          { return u.Table }
func (u *SelectFrom) ColumnMap() map[string]string { return u.Columns }
func (*SelectFrom) unit()                          {}

// Join brings in columns of Table by crossing Relation.
type Join struct {
	Table    *Table
	Relation *Relation
	Columns  map[string]string
}

func (u *Join) SourceTable() *Table          { return u.Table }
func (u *Join) ColumnMap() map[string]string { return u.Columns }
func (*Join) unit()                          {}

// SourceColumn returns the source column a unit maps datasetColumn from.
func SourceColumn(u Unit, datasetColumn string) (string, bool) {
	col, ok := u.ColumnMap()[datasetColumn]
	return col, ok
}

// DatasetTable is a table of a dataset. Its columns are produced by its
// units; restrictions and compound relations are attached to it by
// partition mapping.
type DatasetTable struct {
	Name  string
	Units []Unit

	partitionTable *partition.Table
	namingColumn   string
	restrictions   map[string]RestrictionDefinition
	compounds      map[string]CompoundRelationDefinition
}

// NewDatasetTable creates a dataset table over the given units.
func NewDatasetTable(name string, units ...Unit) *DatasetTable {
	return &DatasetTable{
		Name:         name,
		Units:        units,
		restrictions: make(map[string]RestrictionDefinition),
		compounds:    make(map[string]CompoundRelationDefinition),
	}
}

// Columns returns the sorted names of every column the units produce.
func (d *DatasetTable) Columns() []string {
	seen := make(map[string]bool)
	var cols []string
	for _, u := range d.Units {
		for name := range u.ColumnMap() {
			if !seen[name] {
				seen[name] = true
				cols = append(cols, name)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// Producers returns the units that produce datasetColumn, in pipeline order.
func (d *DatasetTable) Producers(datasetColumn string) []Unit {
	var units []Unit
	for _, u := range d.Units {
		if _, ok := SourceColumn(u, datasetColumn); ok {
			units = append(units, u)
		}
	}
	return units
}

// Partition marks the table as backed by pt, naming each partition
// instance after namingColumn (a qualified column of pt's top level).
func (d *DatasetTable) Partition(pt *partition.Table, namingColumn string) {
	d.partitionTable = pt
	d.namingColumn = namingColumn
}

// PartitionTable returns the partition table backing d, or nil.
func (d *DatasetTable) PartitionTable() *partition.Table { return d.partitionTable }

// NamingColumn returns the qualified naming column set by Partition.
func (d *DatasetTable) NamingColumn() string { return d.namingColumn }

// IsPartitioned reports whether Partition has been applied.
func (d *DatasetTable) IsPartitioned() bool { return d.partitionTable != nil }

// RestrictTable attaches a restriction on the real table t, replacing any
// previous restriction on it.
func (d *DatasetTable) RestrictTable(t *Table, def RestrictionDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	for col := range def.Aliases {
		if !t.HasColumn(col) {
			return apperrors.NewMappingError(apperrors.CodeInvalidMapping,
				fmt.Sprintf("restriction alias refers to unknown column %s.%s", t.Name, col))
		}
	}
	def.Table = t.Name
	d.ensureMaps()
	d.restrictions[t.Name] = def.clone()
	return nil
}

// Restriction returns the restriction on the named real table.
func (d *DatasetTable) Restriction(table string) (RestrictionDefinition, bool) {
	def, ok := d.restrictions[table]
	if !ok {
		return RestrictionDefinition{}, false
	}
	return def.clone(), true
}

// Restrictions returns every restriction ordered by table name.
func (d *DatasetTable) Restrictions() []RestrictionDefinition {
	names := make([]string, 0, len(d.restrictions))
	for name := range d.restrictions {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]RestrictionDefinition, len(names))
	for i, name := range names {
		defs[i] = d.restrictions[name].clone()
	}
	return defs
}

// CompoundRelation attaches a compound definition to relation r.
func (d *DatasetTable) CompoundRelation(r *Relation, def CompoundRelationDefinition) error {
	if def.Arity < 1 {
		return apperrors.NewMappingError(apperrors.CodeInvalidMapping,
			fmt.Sprintf("compound relation %s needs an arity of at least 1, got %d", r.Name, def.Arity))
	}
	d.ensureMaps()
	d.compounds[r.Name] = def
	return nil
}

// Compound returns the compound definition of the named relation.
func (d *DatasetTable) Compound(relation string) (CompoundRelationDefinition, bool) {
	def, ok := d.compounds[relation]
	return def, ok
}

// Compounds returns the compound definitions keyed by relation name.
func (d *DatasetTable) Compounds() map[string]CompoundRelationDefinition {
	out := make(map[string]CompoundRelationDefinition, len(d.compounds))
	for k, v := range d.compounds {
		out[k] = v
	}
	return out
}

// RemovePartitioning detaches the partition table along with every
// restriction and partition-driven compound relation that refers to it.
func (d *DatasetTable) RemovePartitioning() {
	if d.partitionTable == nil {
		return
	}
	name := d.partitionTable.Name()
	for table, def := range d.restrictions {
		if def.References(name) {
			delete(d.restrictions, table)
		}
	}
	for rel, def := range d.compounds {
		if def.PartitionDriven && def.References(name) {
			delete(d.compounds, rel)
		}
	}
	d.partitionTable = nil
	d.namingColumn = ""
}

func (d *DatasetTable) ensureMaps() {
	if d.restrictions == nil {
		d.restrictions = make(map[string]RestrictionDefinition)
	}
	if d.compounds == nil {
		d.compounds = make(map[string]CompoundRelationDefinition)
	}
}

// NoDimension selects a dataset's main table.
const NoDimension = ""

// Dataset is a main table plus optional dimension tables.
type Dataset struct {
	Name       string
	Main       *DatasetTable
	Dimensions map[string]*DatasetTable
}

// Table returns the main table for NoDimension, otherwise the named
// dimension table.
func (ds *Dataset) Table(dimension string) (*DatasetTable, error) {
	if dimension == NoDimension {
		if ds.Main == nil {
			return nil, apperrors.NewMappingError(apperrors.CodeInvalidMapping,
				fmt.Sprintf("dataset %s has no main table", ds.Name))
		}
		return ds.Main, nil
	}
	t, ok := ds.Dimensions[dimension]
	if !ok {
		return nil, apperrors.NewMappingError(apperrors.CodeInvalidMapping,
			fmt.Sprintf("dataset %s has no dimension %s", ds.Name, dimension))
	}
	return t, nil
}

// DimensionNames returns the sorted dimension names.
func (ds *Dataset) DimensionNames() []string {
	names := make([]string, 0, len(ds.Dimensions))
	for name := range ds.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
