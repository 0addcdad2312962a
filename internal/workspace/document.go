// Package workspace loads YAML workspace documents describing partition
// tables, target datasets and mapping requests, and turns them into live
// objects.
package workspace

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	KindSingle     = "single"
	KindCollection = "collection"
	KindDistinct   = "distinct"
	KindObject     = "object"
	KindSnapshot   = "snapshot"
)

// Unit kinds.
const (
	UnitSelectFrom = "select_from"
	UnitJoin       = "join"
)

// Document is the YAML form of a workspace.
type Document struct {
	Version         string           `yaml:"version"`
	PartitionTables []PartitionTable `yaml:"partition_tables"`
	Schema          SchemaDoc        `yaml:"schema"`
	Datasets        []DatasetDoc     `yaml:"datasets"`
	Mappings        []MappingDoc     `yaml:"mappings"`
}

// PartitionTable describes one partition table.
type PartitionTable struct {
	Name       string         `yaml:"name"`
	Source     SourceDoc      `yaml:"source"`
	Levels     [][]string     `yaml:"levels"`
	Transforms []TransformDoc `yaml:"transforms,omitempty"`
}

// SourceDoc describes where a partition table's rows come from. Which
// fields apply depends on Kind:
//
//	single:     Column, Value
//	collection: Columns, Rows
//	distinct:   Path, Table, Columns (optional)
//	object:     Objects or Prefix
//	snapshot:   Object, Table, Columns (optional)
type SourceDoc struct {
	Kind    string     `yaml:"kind"`
	Column  string     `yaml:"column,omitempty"`
	Value   string     `yaml:"value,omitempty"`
	Columns []string   `yaml:"columns,omitempty"`
	Rows    [][]string `yaml:"rows,omitempty"`
	Path    string     `yaml:"path,omitempty"`
	Table   string     `yaml:"table,omitempty"`
	Objects []string   `yaml:"objects,omitempty"`
	Prefix  string     `yaml:"prefix,omitempty"`
	Object  string     `yaml:"object,omitempty"`
}

// TransformDoc is a regex transform of one column.
type TransformDoc struct {
	Column  string  `yaml:"column"`
	Match   string  `yaml:"match"`
	Replace *string `yaml:"replace,omitempty"`
}

// SchemaDoc lists the real tables and relations.
type SchemaDoc struct {
	Tables    []TableDoc    `yaml:"tables"`
	Relations []RelationDoc `yaml:"relations"`
}

// TableDoc is a real table.
type TableDoc struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
}

// RelationDoc is a relation between real tables.
type RelationDoc struct {
	Name       string `yaml:"name"`
	FromTable  string `yaml:"from_table"`
	FromColumn string `yaml:"from_column"`
	ToTable    string `yaml:"to_table"`
	ToColumn   string `yaml:"to_column"`
}

// DatasetDoc is a dataset with its main and dimension tables.
type DatasetDoc struct {
	Name       string            `yaml:"name"`
	Main       DatasetTableDoc   `yaml:"main"`
	Dimensions []DatasetTableDoc `yaml:"dimensions,omitempty"`
}

// DatasetTableDoc is a dataset table and its transformation units.
type DatasetTableDoc struct {
	Name  string    `yaml:"name"`
	Units []UnitDoc `yaml:"units"`
}

// UnitDoc is a transformation unit. Columns maps dataset column names to
// source column names.
type UnitDoc struct {
	Kind     string            `yaml:"kind"`
	Table    string            `yaml:"table"`
	Relation string            `yaml:"relation,omitempty"`
	Columns  map[string]string `yaml:"columns"`
}

// MappingDoc is a named mapping request.
type MappingDoc struct {
	Name           string           `yaml:"name"`
	PartitionTable string           `yaml:"partition_table"`
	Dataset        string           `yaml:"dataset"`
	Dimension      string           `yaml:"dimension,omitempty"`
	NamingColumn   string           `yaml:"naming_column,omitempty"`
	Levels         []LevelChoiceDoc `yaml:"levels"`
}

// LevelChoiceDoc is the choice for one level of a mapping.
type LevelChoiceDoc struct {
	PartitionColumn string `yaml:"partition_column,omitempty"`
	DatasetColumn   string `yaml:"dataset_column,omitempty"`
}

// LoadFile reads and parses a workspace document.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML data into a Document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workspace YAML: %w", err)
	}
	applyDefaults(&doc)
	return &doc, nil
}

// applyDefaults fills in default values for optional fields.
func applyDefaults(doc *Document) {
	if doc.Version == "" {
		doc.Version = "1"
	}
	for i := range doc.Datasets {
		ds := &doc.Datasets[i]
		if ds.Main.Name == "" {
			ds.Main.Name = ds.Name
		}
		for j := range ds.Main.Units {
			defaultUnit(&ds.Main.Units[j])
		}
		for j := range ds.Dimensions {
			for k := range ds.Dimensions[j].Units {
				defaultUnit(&ds.Dimensions[j].Units[k])
			}
		}
	}
}

func defaultUnit(u *UnitDoc) {
	if u.Kind == "" {
		if u.Relation != "" {
			u.Kind = UnitJoin
		} else {
			u.Kind = UnitSelectFrom
		}
	}
}

// Marshal serializes a Document to YAML.
func Marshal(doc *Document) ([]byte, error) {
	return yaml.Marshal(doc)
}
