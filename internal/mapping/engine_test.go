package mapping

import (
	"context"
	"testing"

	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/partition"
	"github.com/martforge/martforge/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var geoRows = []partition.Record{
	{"continent": "EU", "country": "France", "city": "Paris"},
	{"continent": "EU", "country": "France", "city": "Lyon"},
	{"continent": "EU", "country": "Germany", "city": "Berlin"},
	{"continent": "US", "country": "USA", "city": "Boston"},
	{"continent": "US", "country": "USA", "city": "Denver"},
}

func geoTable(t *testing.T, entries ...partition.Entry) *partition.Table {
	t.Helper()
	pt := partition.NewTable("geo", partition.NewCollectionSource([]string{"continent", "country", "city"}, geoRows), nil)
	require.NoError(t, pt.SetSelection(entries...))
	return pt
}

var (
	col = partition.ColumnEntry
	div = partition.DividerEntry
)

type fixture struct {
	sales    *schema.Table
	store    *schema.Table
	relation *schema.Relation
	dataset  *schema.Dataset
}

func newFixture() *fixture {
	f := &fixture{
		sales: &schema.Table{Name: "sales", Columns: []string{"id", "region", "store_id"}},
		store: &schema.Table{Name: "store", Columns: []string{"id", "country", "city"}},
		relation: &schema.Relation{
			Name: "sales_store", FromTable: "sales", FromColumn: "store_id", ToTable: "store", ToColumn: "id",
		},
	}
	main := schema.NewDatasetTable("sales_main",
		&schema.SelectFrom{Table: f.sales, Columns: map[string]string{
			"sale_id":     "id",
			"sale_region": "region",
			"region_copy": "region",
		}},
		&schema.Join{Table: f.store, Relation: f.relation, Columns: map[string]string{
			"store_country": "country",
			"store_city":    "city",
		}},
	)
	dim := schema.NewDatasetTable("store_dm",
		&schema.SelectFrom{Table: f.store, Columns: map[string]string{"city": "city"}},
	)
	f.dataset = &schema.Dataset{Name: "sales", Main: main, Dimensions: map[string]*schema.DatasetTable{"store_dm": dim}}
	return f
}

func TestCandidates(t *testing.T) {
	pt := geoTable(t, col("continent"), col("country"), div(), col("city"))
	naming, levels := Candidates(pt)
	assert.Equal(t, []string{"geo.continent", "geo.country"}, naming)
	assert.Equal(t, [][]string{{"geo.continent", "geo.country"}, {"geo.city"}}, levels)
}

func TestApply_SingleLevelSelectFrom(t *testing.T) {
	f := newFixture()
	pt := geoTable(t, col("continent"))

	result, err := NewEngine(nil).Apply(context.Background(), Request{
		Table:   pt,
		Dataset: f.dataset,
		Levels:  []LevelChoice{{DatasetColumn: "sale_region"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "geo", result.Table)

	main := f.dataset.Main
	assert.True(t, main.IsPartitioned())
	assert.Equal(t, "geo.continent", main.NamingColumn())

	restrictions := main.Restrictions()
	require.Len(t, restrictions, 1)
	r := restrictions[0]
	assert.Equal(t, "sales", r.Table)
	assert.Equal(t, map[string]string{"region": "partCol"}, r.Aliases)
	assert.Equal(t, ":partCol = '%geo.continent%'", r.Expression)
	assert.True(t, r.Hard)
	assert.Empty(t, main.Compounds())
}

func TestApply_JoinCountsNestedRows(t *testing.T) {
	f := newFixture()
	pt := geoTable(t, col("continent"), div(), col("country"))

	result, err := NewEngine(nil).Apply(context.Background(), Request{
		Table:        pt,
		Dataset:      f.dataset,
		NamingColumn: "continent",
		Levels: []LevelChoice{
			{PartitionColumn: "geo.continent", DatasetColumn: "sale_region"},
			{PartitionColumn: "country", DatasetColumn: "store_country"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Plan.Compounds, 1)

	main := f.dataset.Main
	assert.Len(t, main.Restrictions(), 2)

	store, ok := main.Restriction("store")
	require.True(t, ok)
	assert.Equal(t, ":partCol = '%geo.country%'", store.Expression)

	// First row is EU, which has France and Germany.
	compound, ok := main.Compound("sales_store")
	require.True(t, ok)
	assert.Equal(t, schema.CompoundRelationDefinition{Arity: 2, PartitionDriven: true, Partition: "geo.country"}, compound)
}

func TestApply_SkippedLevelKeepsLaterLevels(t *testing.T) {
	f := newFixture()
	pt := geoTable(t, col("continent"), div(), col("country"), div(), col("city"))

	result, err := NewEngine(nil).Apply(context.Background(), Request{
		Table:   pt,
		Dataset: f.dataset,
		Levels: []LevelChoice{
			{DatasetColumn: "sale_region"},
			{},
			{DatasetColumn: "store_city"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, result.Plan.SkippedLevels)

	main := f.dataset.Main
	assert.Len(t, main.Restrictions(), 2)

	// EU/France has Paris and Lyon.
	compound, ok := main.Compound("sales_store")
	require.True(t, ok)
	assert.Equal(t, 2, compound.Arity)
	assert.Equal(t, "geo.city", compound.Partition)
}

func TestApply_Dimension(t *testing.T) {
	f := newFixture()
	pt := geoTable(t, col("city"))

	_, err := NewEngine(nil).Apply(context.Background(), Request{
		Table:     pt,
		Dataset:   f.dataset,
		Dimension: "store_dm",
		Levels:    []LevelChoice{{DatasetColumn: "city"}},
	})
	require.NoError(t, err)

	dim, err := f.dataset.Table("store_dm")
	require.NoError(t, err)
	assert.True(t, dim.IsPartitioned())
	assert.False(t, f.dataset.Main.IsPartitioned())
}

func TestApply_Violations(t *testing.T) {
	tests := []struct {
		name       string
		selection  []partition.Entry
		naming     string
		levels     []LevelChoice
		sentinel   error
		violations int
	}{
		{
			name:       "level 0 unmapped",
			selection:  []partition.Entry{col("continent"), div(), col("country")},
			levels:     []LevelChoice{{}, {DatasetColumn: "store_country"}},
			sentinel:   apperrors.ErrInvalidMapping,
			violations: 1,
		},
		{
			name:       "no choices",
			selection:  []partition.Entry{col("continent")},
			sentinel:   apperrors.ErrInvalidMapping,
			violations: 1,
		},
		{
			name:      "same real column twice",
			selection: []partition.Entry{col("continent"), div(), col("country")},
			levels: []LevelChoice{
				{DatasetColumn: "sale_region"},
				{DatasetColumn: "region_copy"},
			},
			sentinel:   apperrors.ErrInvalidMapping,
			violations: 1,
		},
		{
			name:      "relation replicated by two levels",
			selection: []partition.Entry{col("continent"), div(), col("country"), div(), col("city")},
			levels: []LevelChoice{
				{DatasetColumn: "sale_region"},
				{DatasetColumn: "store_country"},
				{DatasetColumn: "store_city"},
			},
			sentinel:   apperrors.ErrInvalidMapping,
			violations: 1,
		},
		{
			name:       "partition column from another level",
			selection:  []partition.Entry{col("continent"), div(), col("country")},
			levels:     []LevelChoice{{PartitionColumn: "country", DatasetColumn: "sale_region"}},
			sentinel:   apperrors.ErrInvalidMapping,
			violations: 1,
		},
		{
			name:       "ambiguous partition column",
			selection:  []partition.Entry{col("continent"), col("country")},
			levels:     []LevelChoice{{DatasetColumn: "sale_region"}},
			sentinel:   apperrors.ErrInvalidMapping,
			violations: 1,
		},
		{
			name:       "too many choices",
			selection:  []partition.Entry{col("continent")},
			levels:     []LevelChoice{{DatasetColumn: "sale_region"}, {DatasetColumn: "store_city"}},
			sentinel:   apperrors.ErrInvalidMapping,
			violations: 1,
		},
		{
			name:       "bad naming column",
			selection:  []partition.Entry{col("continent"), div(), col("country")},
			naming:     "geo.country",
			levels:     []LevelChoice{{DatasetColumn: "sale_region"}},
			sentinel:   apperrors.ErrInvalidMapping,
			violations: 1,
		},
		{
			name:       "unknown dataset column",
			selection:  []partition.Entry{col("continent")},
			levels:     []LevelChoice{{DatasetColumn: "planet"}},
			sentinel:   apperrors.ErrUnresolvedTransformation,
			violations: 1,
		},
		{
			name:      "all violations reported together",
			selection: []partition.Entry{col("continent"), div(), col("country")},
			levels: []LevelChoice{
				{},
				{DatasetColumn: "planet"},
			},
			sentinel:   apperrors.ErrInvalidMapping,
			violations: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			pt := geoTable(t, tt.selection...)

			_, err := NewEngine(nil).Apply(context.Background(), Request{
				Table:        pt,
				Dataset:      f.dataset,
				NamingColumn: tt.naming,
				Levels:       tt.levels,
			})
			require.ErrorIs(t, err, tt.sentinel)
			assert.Len(t, apperrors.GetViolations(err), tt.violations)

			main := f.dataset.Main
			assert.False(t, main.IsPartitioned())
			assert.Empty(t, main.Restrictions())
			assert.Empty(t, main.Compounds())
		})
	}
}

func TestApply_SameTableRestrictionsAreMerged(t *testing.T) {
	f := newFixture()
	pt := geoTable(t, col("continent"), div(), col("country"))

	result, err := NewEngine(nil).Apply(context.Background(), Request{
		Table:   pt,
		Dataset: f.dataset,
		Levels: []LevelChoice{
			{DatasetColumn: "sale_region"},
			{DatasetColumn: "sale_id"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Plan.Restrictions, 2)
	assert.Equal(t, "partCol1", result.Plan.Restrictions[1].Definition.Aliases["id"])

	main := f.dataset.Main
	restrictions := main.Restrictions()
	require.Len(t, restrictions, 1)
	sales := restrictions[0]
	assert.Equal(t, map[string]string{"region": "partCol", "id": "partCol1"}, sales.Aliases)
	assert.Equal(t, ":partCol = '%geo.continent%' AND :partCol1 = '%geo.country%'", sales.Expression)

	where, err := sales.Resolve("s", map[string]string{"geo.continent": "EU", "geo.country": "France"})
	require.NoError(t, err)
	assert.Equal(t, "s.region = 'EU' AND s.id = 'France'", where)

	require.NoError(t, NewEngine(nil).Remove(f.dataset, schema.NoDimension))
	assert.Empty(t, main.Restrictions())
}

func TestApply_ColumnReusedAcrossLevels(t *testing.T) {
	f := newFixture()
	pt := geoTable(t, col("country"), div(), col("city"), div(), col("country"))

	result, err := NewEngine(nil).Apply(context.Background(), Request{
		Table:   pt,
		Dataset: f.dataset,
		Levels: []LevelChoice{
			{DatasetColumn: "sale_region"},
			{},
			{PartitionColumn: "geo.country", DatasetColumn: "store_country"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Plan.Compounds, 1)
	// Level 2 under (France, Paris) holds one row; level 0 would hold three.
	assert.Equal(t, 1, result.Plan.Compounds[0].Definition.Arity)
	assert.Equal(t, 2, result.Plan.Compounds[0].Level)
}

func TestApply_DottedColumnName(t *testing.T) {
	f := newFixture()
	pt := partition.NewTable("geo", partition.NewCollectionSource([]string{"region.code"}, []partition.Record{
		{"region.code": "EU"},
	}), nil)
	require.NoError(t, pt.SetSelection(col("region.code")))

	result, err := NewEngine(nil).Apply(context.Background(), Request{
		Table:        pt,
		Dataset:      f.dataset,
		NamingColumn: "region.code",
		Levels:       []LevelChoice{{PartitionColumn: "region.code", DatasetColumn: "sale_region"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "geo.region.code", result.Plan.NamingColumn)
	assert.Equal(t, "geo.region.code", result.Plan.Restrictions[0].PartitionColumn)
}

func TestApply_AmbiguousProducer(t *testing.T) {
	f := newFixture()
	f.dataset.Main.Units = append(f.dataset.Main.Units,
		&schema.SelectFrom{Table: f.store, Columns: map[string]string{"sale_region": "country"}})
	pt := geoTable(t, col("continent"))

	_, err := NewEngine(nil).Apply(context.Background(), Request{
		Table:   pt,
		Dataset: f.dataset,
		Levels:  []LevelChoice{{DatasetColumn: "sale_region"}},
	})
	require.ErrorIs(t, err, apperrors.ErrUnresolvedTransformation)
	assert.False(t, f.dataset.Main.IsPartitioned())
}

func TestApply_UnknownDimension(t *testing.T) {
	f := newFixture()
	_, err := NewEngine(nil).Apply(context.Background(), Request{
		Table:     geoTable(t, col("continent")),
		Dataset:   f.dataset,
		Dimension: "missing",
		Levels:    []LevelChoice{{DatasetColumn: "sale_region"}},
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidMapping)
}

func TestApply_LeavesCallerCursorAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	pt := geoTable(t, col("continent"), div(), col("country"))

	require.NoError(t, pt.PrepareRows(ctx, "continent = 'US'", partition.Unlimited))
	ok, err := pt.NextRow(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = NewEngine(nil).Apply(ctx, Request{
		Table:   pt,
		Dataset: f.dataset,
		Levels: []LevelChoice{
			{DatasetColumn: "sale_region"},
			{DatasetColumn: "store_country"},
		},
	})
	require.NoError(t, err)

	row, err := pt.CurrentRow()
	require.NoError(t, err)
	v, err := row.Value("continent")
	require.NoError(t, err)
	assert.Equal(t, "US", v)
}

func TestApply_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newFixture()
	pt := geoTable(t, col("continent"), div(), col("country"))

	_, err := NewEngine(nil).Apply(ctx, Request{
		Table:   pt,
		Dataset: f.dataset,
		Levels: []LevelChoice{
			{DatasetColumn: "sale_region"},
			{DatasetColumn: "store_country"},
		},
	})
	require.ErrorIs(t, err, apperrors.ErrCancelled)
	assert.False(t, f.dataset.Main.IsPartitioned())
}

func TestApply_ReplaceAndRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := NewEngine(nil)

	_, err := engine.Apply(ctx, Request{
		Table:   geoTable(t, col("continent"), div(), col("country")),
		Dataset: f.dataset,
		Levels: []LevelChoice{
			{DatasetColumn: "sale_region"},
			{DatasetColumn: "store_country"},
		},
	})
	require.NoError(t, err)

	other := partition.NewTable("years", partition.NewSingleValueSource("year", "2024"), nil)
	require.NoError(t, other.SetSelection(col("year")))
	_, err = engine.Apply(ctx, Request{
		Table:   other,
		Dataset: f.dataset,
		Levels:  []LevelChoice{{DatasetColumn: "sale_id"}},
	})
	require.NoError(t, err)

	main := f.dataset.Main
	assert.Equal(t, "years.year", main.NamingColumn())
	require.Len(t, main.Restrictions(), 1)
	assert.Equal(t, ":partCol = '%years.year%'", main.Restrictions()[0].Expression)
	assert.Empty(t, main.Compounds())

	require.NoError(t, engine.Remove(f.dataset, schema.NoDimension))
	assert.False(t, main.IsPartitioned())
	assert.Empty(t, main.Restrictions())

	// removing again is a no-op
	require.NoError(t, engine.Remove(f.dataset, schema.NoDimension))
}

func TestPlan_DoesNotMutate(t *testing.T) {
	f := newFixture()
	plan, err := NewEngine(nil).Plan(context.Background(), Request{
		Table:   geoTable(t, col("continent"), div(), col("country")),
		Dataset: f.dataset,
		Levels: []LevelChoice{
			{DatasetColumn: "sale_region"},
			{DatasetColumn: "store_country"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, plan.Restrictions, 2)
	assert.Equal(t, 2, plan.Compounds[0].Definition.Arity)
	assert.False(t, f.dataset.Main.IsPartitioned())
}
