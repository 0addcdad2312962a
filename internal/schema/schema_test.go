package schema

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/partition"
)

var (
	salesTable   = &Table{Name: "sales", Columns: []string{"id", "country", "store_id"}}
	storeTable   = &Table{Name: "store", Columns: []string{"id", "city"}}
	storeRel     = &Relation{Name: "sales_store", FromTable: "sales", FromColumn: "store_id", ToTable: "store", ToColumn: "id"}
	mainSelect   = &SelectFrom{Table: salesTable, Columns: map[string]string{"sale_id": "id", "sale_country": "country"}}
	storeJoin    = &Join{Table: storeTable, Relation: storeRel, Columns: map[string]string{"store_city": "city"}}
	partitionRow = []partition.Record{{"continent": "EU", "country": "France"}}
)

func newTestTable() *DatasetTable {
	return NewDatasetTable("sales_main", mainSelect, storeJoin)
}

func TestDatasetTable_Columns(t *testing.T) {
	d := newTestTable()
	got := strings.Join(d.Columns(), ",")
	if got != "sale_country,sale_id,store_city" {
		t.Errorf("unexpected columns %s", got)
	}

	producers := d.Producers("store_city")
	if len(producers) != 1 {
		t.Fatalf("expected one producer, got %d", len(producers))
	}
	join, ok := producers[0].(*Join)
	if !ok {
		t.Fatalf("expected *Join, got %T", producers[0])
	}
	if join.Relation != storeRel {
		t.Error("unexpected relation")
	}
	if col, ok := SourceColumn(join, "store_city"); !ok || col != "city" {
		t.Errorf("expected city, got %q", col)
	}
	if len(d.Producers("missing")) != 0 {
		t.Error("expected no producers for unknown column")
	}
}

func TestDatasetTable_Sinks(t *testing.T) {
	d := newTestTable()
	pt := partition.NewTable("geo", partition.NewCollectionSource([]string{"continent", "country"}, partitionRow), nil)

	d.Partition(pt, "geo.continent")
	if !d.IsPartitioned() || d.PartitionTable() != pt || d.NamingColumn() != "geo.continent" {
		t.Fatal("partition not recorded")
	}

	def := RestrictionDefinition{
		Aliases:    map[string]string{"country": "partCol"},
		Expression: ":partCol = '%geo.country%'",
		Hard:       true,
	}
	if err := d.RestrictTable(salesTable, def); err != nil {
		t.Fatalf("RestrictTable failed: %v", err)
	}
	got, ok := d.Restriction("sales")
	if !ok {
		t.Fatal("restriction not stored")
	}
	if got.Table != "sales" || !got.Hard {
		t.Errorf("unexpected restriction %+v", got)
	}

	// stored copy is independent of the caller's map
	def.Aliases["country"] = "other"
	got, _ = d.Restriction("sales")
	if got.Aliases["country"] != "partCol" {
		t.Error("restriction aliases were shared with caller")
	}

	if err := d.CompoundRelation(storeRel, CompoundRelationDefinition{Arity: 3, PartitionDriven: true, Partition: "geo.country"}); err != nil {
		t.Fatalf("CompoundRelation failed: %v", err)
	}
	if c, ok := d.Compound("sales_store"); !ok || c.Arity != 3 {
		t.Errorf("unexpected compound %+v", c)
	}

	d.RemovePartitioning()
	if d.IsPartitioned() || d.NamingColumn() != "" {
		t.Error("partitioning not removed")
	}
	if len(d.Restrictions()) != 0 || len(d.Compounds()) != 0 {
		t.Error("partition restrictions should be removed with partitioning")
	}
}

func TestDatasetTable_RemoveKeepsUnrelated(t *testing.T) {
	d := newTestTable()
	pt := partition.NewTable("geo", partition.NewCollectionSource([]string{"continent", "country"}, partitionRow), nil)
	d.Partition(pt, "geo.continent")

	manual := RestrictionDefinition{Aliases: map[string]string{"city": "c"}, Expression: ":c <> 'Paris'"}
	if err := d.RestrictTable(storeTable, manual); err != nil {
		t.Fatalf("RestrictTable failed: %v", err)
	}
	if err := d.CompoundRelation(storeRel, CompoundRelationDefinition{Arity: 2}); err != nil {
		t.Fatalf("CompoundRelation failed: %v", err)
	}

	d.RemovePartitioning()
	if _, ok := d.Restriction("store"); !ok {
		t.Error("manual restriction should survive")
	}
	if _, ok := d.Compound("sales_store"); !ok {
		t.Error("manual compound should survive")
	}
}

func TestDatasetTable_SinkErrors(t *testing.T) {
	d := newTestTable()

	tests := []struct {
		name string
		def  RestrictionDefinition
	}{
		{"no expression", RestrictionDefinition{Aliases: map[string]string{"id": "a"}}},
		{"no aliases", RestrictionDefinition{Expression: ":a = 1"}},
		{"unknown column", RestrictionDefinition{Aliases: map[string]string{"planet": "a"}, Expression: ":a = 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.RestrictTable(salesTable, tt.def); !errors.Is(err, apperrors.ErrInvalidMapping) {
				t.Errorf("expected ErrInvalidMapping, got %v", err)
			}
		})
	}

	if err := d.CompoundRelation(storeRel, CompoundRelationDefinition{Arity: 0}); !errors.Is(err, apperrors.ErrInvalidMapping) {
		t.Errorf("expected ErrInvalidMapping for zero arity, got %v", err)
	}
}

func TestRestriction_SubstituteAndResolve(t *testing.T) {
	def := RestrictionDefinition{
		Aliases:    map[string]string{"country": "partCol", "id": "partColId"},
		Expression: ":partCol = '%geo.country%' AND :partColId > 0",
	}

	if got := def.Substitute("t1"); got != "t1.country = '%geo.country%' AND t1.id > 0" {
		t.Errorf("unexpected substitution %q", got)
	}

	resolved, err := def.Resolve("t1", map[string]string{"geo.country": "Cote d'Ivoire"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved != "t1.country = 'Cote d''Ivoire' AND t1.id > 0" {
		t.Errorf("unexpected resolution %q", resolved)
	}

	if _, err := def.Resolve("t1", nil); !errors.Is(err, apperrors.ErrInvalidMapping) {
		t.Errorf("expected ErrInvalidMapping for missing value, got %v", err)
	}

	if p := def.Placeholders(); len(p) != 1 || p[0] != "geo.country" {
		t.Errorf("unexpected placeholders %v", p)
	}
	if !def.References("geo") || def.References("ge") {
		t.Error("References should match whole table names")
	}
}

func TestRestriction_NonIdentifierNames(t *testing.T) {
	def := RestrictionDefinition{
		Aliases:    map[string]string{"region": "partCol"},
		Expression: ":partCol = '%geo-eu.continent name%'",
	}
	if p := def.Placeholders(); len(p) != 1 || p[0] != "geo-eu.continent name" {
		t.Errorf("unexpected placeholders %v", p)
	}
	if !def.References("geo-eu") {
		t.Error("expected a reference to geo-eu")
	}

	resolved, err := def.Resolve("t", map[string]string{"geo-eu.continent name": "EU"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved != "t.region = 'EU'" {
		t.Errorf("unexpected resolution %q", resolved)
	}
	if _, err := def.Resolve("t", nil); !errors.Is(err, apperrors.ErrInvalidMapping) {
		t.Errorf("expected ErrInvalidMapping for missing value, got %v", err)
	}

	pt := partition.NewTable("geo-eu", partition.NewSingleValueSource("continent name", "EU"), nil)
	d := newTestTable()
	d.Partition(pt, "geo-eu.continent name")
	if err := d.RestrictTable(salesTable, RestrictionDefinition{
		Aliases:    map[string]string{"country": "partCol"},
		Expression: ":partCol = '%geo-eu.continent name%'",
	}); err != nil {
		t.Fatalf("RestrictTable failed: %v", err)
	}
	d.RemovePartitioning()
	if d.IsPartitioned() || len(d.Restrictions()) != 0 {
		t.Errorf("partitioning left behind: partitioned=%v restrictions=%d", d.IsPartitioned(), len(d.Restrictions()))
	}
}

func TestDataset_Table(t *testing.T) {
	main := newTestTable()
	dim := NewDatasetTable("store_dm", &SelectFrom{Table: storeTable, Columns: map[string]string{"city": "city"}})
	ds := &Dataset{Name: "sales", Main: main, Dimensions: map[string]*DatasetTable{"store_dm": dim}}

	if got, err := ds.Table(NoDimension); err != nil || got != main {
		t.Errorf("expected main table, got %v, %v", got, err)
	}
	if got, err := ds.Table("store_dm"); err != nil || got != dim {
		t.Errorf("expected dimension table, got %v, %v", got, err)
	}
	if _, err := ds.Table("missing"); !errors.Is(err, apperrors.ErrInvalidMapping) {
		t.Errorf("expected ErrInvalidMapping, got %v", err)
	}
	if names := ds.DimensionNames(); len(names) != 1 || names[0] != "store_dm" {
		t.Errorf("unexpected dimensions %v", names)
	}
}
