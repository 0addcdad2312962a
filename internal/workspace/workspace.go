package workspace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/mapping"
	"github.com/martforge/martforge/internal/partition"
	"github.com/martforge/martforge/internal/schema"
	"github.com/martforge/martforge/internal/source"
	"github.com/martforge/martforge/internal/storage"
)

// Deps are the collaborators sources may need while a workspace is built.
type Deps struct {
	// Store serves object and snapshot sources. May be nil when the
	// workspace uses neither.
	Store storage.ObjectStorage
	// CacheDir receives SQLite snapshots fetched from Store.
	CacheDir string
	// Concurrency bounds parallel object reads.
	Concurrency int
	Logger      *slog.Logger
}

// Workspace holds the live objects built from a Document.
type Workspace struct {
	doc      *Document
	baseDir  string
	tables   map[string]*partition.Table
	real     map[string]*schema.Table
	rels     map[string]*schema.Relation
	datasets map[string]*schema.Dataset
	mappings map[string]MappingDoc
	closers  []io.Closer
	logger   *slog.Logger
}

// Load reads the document at path and builds it. Relative source paths
// are resolved against the document's directory.
func Load(ctx context.Context, path string, deps Deps) (*Workspace, error) {
	doc, err := LoadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to load workspace", err)
	}
	return Build(ctx, doc, filepath.Dir(path), deps)
}

// Build turns doc into live objects. Column transforms are validated
// strictly: a match without a replacement is rejected.
func Build(ctx context.Context, doc *Document, baseDir string, deps Deps) (*Workspace, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &Workspace{
		doc:      doc,
		baseDir:  baseDir,
		tables:   make(map[string]*partition.Table),
		real:     make(map[string]*schema.Table),
		rels:     make(map[string]*schema.Relation),
		datasets: make(map[string]*schema.Dataset),
		mappings: make(map[string]MappingDoc),
		logger:   logger,
	}

	if err := w.buildSchema(doc.Schema); err != nil {
		return nil, err
	}
	for _, d := range doc.Datasets {
		if err := w.buildDataset(d); err != nil {
			return nil, err
		}
	}
	for _, pt := range doc.PartitionTables {
		if err := w.buildPartitionTable(ctx, pt, deps); err != nil {
			w.Close()
			return nil, err
		}
	}
	for _, m := range doc.Mappings {
		if _, dup := w.mappings[m.Name]; dup {
			w.Close()
			return nil, invalid("duplicate mapping %q", m.Name)
		}
		if _, ok := w.tables[m.PartitionTable]; !ok {
			w.Close()
			return nil, invalid("mapping %q refers to unknown partition table %q", m.Name, m.PartitionTable)
		}
		if _, ok := w.datasets[m.Dataset]; !ok {
			w.Close()
			return nil, invalid("mapping %q refers to unknown dataset %q", m.Name, m.Dataset)
		}
		w.mappings[m.Name] = m
	}

	logger.Debug("workspace: built",
		"partition_tables", len(w.tables), "datasets", len(w.datasets), "mappings", len(w.mappings))
	return w, nil
}

func invalid(format string, args ...interface{}) error {
	return apperrors.NewConfigError(fmt.Sprintf(format, args...), nil)
}

func (w *Workspace) buildSchema(doc SchemaDoc) error {
	for _, t := range doc.Tables {
		if _, dup := w.real[t.Name]; dup {
			return invalid("duplicate table %q", t.Name)
		}
		w.real[t.Name] = &schema.Table{Name: t.Name, Columns: append([]string(nil), t.Columns...)}
	}
	for _, r := range doc.Relations {
		if _, dup := w.rels[r.Name]; dup {
			return invalid("duplicate relation %q", r.Name)
		}
		from, ok := w.real[r.FromTable]
		if !ok || !from.HasColumn(r.FromColumn) {
			return invalid("relation %q starts at unknown column %s.%s", r.Name, r.FromTable, r.FromColumn)
		}
		to, ok := w.real[r.ToTable]
		if !ok || !to.HasColumn(r.ToColumn) {
			return invalid("relation %q ends at unknown column %s.%s", r.Name, r.ToTable, r.ToColumn)
		}
		w.rels[r.Name] = &schema.Relation{
			Name:       r.Name,
			FromTable:  r.FromTable,
			FromColumn: r.FromColumn,
			ToTable:    r.ToTable,
			ToColumn:   r.ToColumn,
		}
	}
	return nil
}

func (w *Workspace) buildDataset(d DatasetDoc) error {
	if _, dup := w.datasets[d.Name]; dup {
		return invalid("duplicate dataset %q", d.Name)
	}
	main, err := w.buildDatasetTable(d.Main)
	if err != nil {
		return err
	}
	ds := &schema.Dataset{Name: d.Name, Main: main, Dimensions: make(map[string]*schema.DatasetTable)}
	for _, dim := range d.Dimensions {
		if _, dup := ds.Dimensions[dim.Name]; dup || dim.Name == schema.NoDimension {
			return invalid("dataset %q has a duplicate or unnamed dimension %q", d.Name, dim.Name)
		}
		t, err := w.buildDatasetTable(dim)
		if err != nil {
			return err
		}
		ds.Dimensions[dim.Name] = t
	}
	w.datasets[d.Name] = ds
	return nil
}

func (w *Workspace) buildDatasetTable(d DatasetTableDoc) (*schema.DatasetTable, error) {
	units := make([]schema.Unit, 0, len(d.Units))
	for i, u := range d.Units {
		tbl, ok := w.real[u.Table]
		if !ok {
			return nil, invalid("unit %d of %q reads unknown table %q", i, d.Name, u.Table)
		}
		cols := make(map[string]string, len(u.Columns))
		for dsCol, srcCol := range u.Columns {
			if !tbl.HasColumn(srcCol) {
				return nil, invalid("unit %d of %q maps unknown column %s.%s", i, d.Name, u.Table, srcCol)
			}
			cols[dsCol] = srcCol
		}

		switch u.Kind {
		case UnitSelectFrom:
			units = append(units, &schema.SelectFrom{Table: tbl, Columns: cols})
		case UnitJoin:
			rel, ok := w.rels[u.Relation]
			if !ok {
				return nil, invalid("unit %d of %q crosses unknown relation %q", i, d.Name, u.Relation)
			}
			units = append(units, &schema.Join{Table: tbl, Relation: rel, Columns: cols})
		default:
			return nil, invalid("unit %d of %q has unknown kind %q", i, d.Name, u.Kind)
		}
	}
	return schema.NewDatasetTable(d.Name, units...), nil
}

func (w *Workspace) buildPartitionTable(ctx context.Context, d PartitionTable, deps Deps) error {
	if _, dup := w.tables[d.Name]; dup {
		return invalid("duplicate partition table %q", d.Name)
	}
	// Restrictions name partition values as %<table>.<column>%.
	if d.Name == "" || strings.ContainsAny(d.Name, ".%") {
		return invalid("partition table name %q must be non-empty without '.' or '%%'", d.Name)
	}
	src, err := w.buildSource(ctx, d.Source, deps)
	if err != nil {
		return fmt.Errorf("partition table %q: %w", d.Name, err)
	}

	pt := partition.NewTable(d.Name, src, w.logger)
	for _, c := range pt.AllColumnNames() {
		if strings.Contains(c, "%") {
			return invalid("partition table %q has column %q containing '%%'", d.Name, c)
		}
	}
	for _, tr := range d.Transforms {
		col, err := pt.Column(tr.Column)
		if err != nil {
			return err
		}
		if err := col.SetRegexMatch(tr.Match); err != nil {
			return err
		}
		if tr.Replace != nil {
			col.SetRegexReplace(*tr.Replace)
		}
		if err := col.Validate(); err != nil {
			return err
		}
	}
	if err := pt.SetSelection(partition.SelectionFromLevels(d.Levels)...); err != nil {
		return err
	}
	w.tables[d.Name] = pt
	return nil
}

func (w *Workspace) buildSource(ctx context.Context, d SourceDoc, deps Deps) (partition.RowSource, error) {
	switch d.Kind {
	case KindSingle:
		if d.Column == "" {
			return nil, invalid("single value source needs a column")
		}
		return partition.NewSingleValueSource(d.Column, d.Value), nil

	case KindCollection:
		if len(d.Columns) == 0 {
			return nil, invalid("collection source needs columns")
		}
		rows := make([]partition.Record, len(d.Rows))
		for i, r := range d.Rows {
			if len(r) > len(d.Columns) {
				return nil, invalid("collection row %d has %d values for %d columns", i, len(r), len(d.Columns))
			}
			rec := make(partition.Record, len(r))
			for j, v := range r {
				rec[d.Columns[j]] = v
			}
			rows[i] = rec
		}
		return partition.NewCollectionSource(d.Columns, rows), nil

	case KindDistinct:
		path := d.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(w.baseDir, path)
		}
		src, err := source.OpenDistinctSource(ctx, path, d.Table, d.Columns, w.logger)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, src)
		return src, nil

	case KindObject:
		if deps.Store == nil {
			return nil, invalid("object source needs storage")
		}
		var src *source.ObjectSource
		var err error
		if d.Prefix != "" {
			src, err = source.OpenObjectPrefix(ctx, deps.Store, d.Prefix, deps.Concurrency)
		} else {
			src, err = source.OpenObjectSource(ctx, deps.Store, d.Objects, deps.Concurrency)
		}
		if err != nil {
			return nil, err
		}
		return src, nil

	case KindSnapshot:
		if deps.Store == nil {
			return nil, invalid("snapshot source needs storage")
		}
		local, err := source.FetchSQLite(ctx, deps.Store, d.Object, deps.CacheDir)
		if err != nil {
			return nil, err
		}
		src, err := source.OpenDistinctSource(ctx, local, d.Table, d.Columns, w.logger)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, src)
		return src, nil

	default:
		return nil, invalid("unknown source kind %q", d.Kind)
	}
}

// Document returns the document the workspace was built from.
func (w *Workspace) Document() *Document { return w.doc }

// PartitionTable returns the named partition table.
func (w *Workspace) PartitionTable(name string) (*partition.Table, error) {
	pt, ok := w.tables[name]
	if !ok {
		return nil, invalid("unknown partition table %q", name)
	}
	return pt, nil
}

// PartitionTableNames returns the sorted partition table names.
func (w *Workspace) PartitionTableNames() []string {
	return sortedKeys(w.tables)
}

// Dataset returns the named dataset.
func (w *Workspace) Dataset(name string) (*schema.Dataset, error) {
	ds, ok := w.datasets[name]
	if !ok {
		return nil, invalid("unknown dataset %q", name)
	}
	return ds, nil
}

// MappingNames returns the sorted mapping names.
func (w *Workspace) MappingNames() []string {
	return sortedKeys(w.mappings)
}

// Request builds the mapping request with the given name.
func (w *Workspace) Request(name string) (mapping.Request, error) {
	m, ok := w.mappings[name]
	if !ok {
		return mapping.Request{}, invalid("unknown mapping %q", name)
	}
	levels := make([]mapping.LevelChoice, len(m.Levels))
	for i, l := range m.Levels {
		levels[i] = mapping.LevelChoice{PartitionColumn: l.PartitionColumn, DatasetColumn: l.DatasetColumn}
	}
	return mapping.Request{
		Table:        w.tables[m.PartitionTable],
		Dataset:      w.datasets[m.Dataset],
		Dimension:    m.Dimension,
		NamingColumn: m.NamingColumn,
		Levels:       levels,
	}, nil
}

// Close releases the sources opened while building.
func (w *Workspace) Close() error {
	var first error
	for _, pt := range w.tables {
		pt.Close()
	}
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.closers = nil
	return first
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
