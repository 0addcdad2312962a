// Package app wires configuration, storage, the workspace and the mapping
// engine together for the martforge CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/martforge/martforge/internal/config"
	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/mapping"
	"github.com/martforge/martforge/internal/partition"
	"github.com/martforge/martforge/internal/source"
	"github.com/martforge/martforge/internal/storage"
	"github.com/martforge/martforge/internal/workspace"
)

// App owns the resources of one martforge run.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	storage   storage.ObjectStorage
	workspace *workspace.Workspace
	engine    *mapping.Engine

	mu     sync.Mutex
	opened bool
}

// New creates an App with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// Resolve paths and validate
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		engine: mapping.NewEngine(logger),
	}, nil
}

// Open initializes storage and loads the workspace.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return fmt.Errorf("app is already open")
	}

	if err := a.initStorage(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	ws, err := workspace.Load(ctx, a.cfg.Workspace, workspace.Deps{
		Store:       a.storage,
		CacheDir:    a.cfg.Source.CacheDir,
		Concurrency: a.cfg.Source.Concurrency,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}
	a.workspace = ws
	a.opened = true

	a.logger.Debug("app: opened",
		"workspace", a.cfg.Workspace, "storage", a.cfg.Storage.Type,
		"partition_tables", len(ws.PartitionTableNames()))
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		if a.cfg.Storage.S3.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		}
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return err
	}

	a.logger.Debug("app: storage initialized", "type", a.cfg.Storage.Type)
	if a.cfg.Storage.Type == "s3" {
		a.logger.Debug("app: s3 config",
			"bucket", a.cfg.Storage.S3.Bucket,
			"region", a.cfg.Storage.S3.Region,
			"endpoint", a.cfg.Storage.S3.Endpoint)
	}
	return nil
}

// Close releases the workspace's sources.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.opened {
		return nil
	}
	a.opened = false
	return a.workspace.Close()
}

// Workspace returns the loaded workspace.
func (a *App) Workspace() *workspace.Workspace { return a.workspace }

// Storage returns the object storage.
func (a *App) Storage() storage.ObjectStorage { return a.storage }

// LevelsReport lists a partition table's columns and levels.
type LevelsReport struct {
	Table     string     `json:"table"`
	Columns   []string   `json:"columns"`
	Selection string     `json:"selection"`
	Levels    [][]string `json:"levels"`
	Naming    []string   `json:"naming_candidates"`
}

// Levels reports the columns and subdivision levels of a partition table.
func (a *App) Levels(name string) (*LevelsReport, error) {
	pt, err := a.workspace.PartitionTable(name)
	if err != nil {
		return nil, err
	}
	naming, levels := mapping.Candidates(pt)
	return &LevelsReport{
		Table:     pt.Name(),
		Columns:   pt.AllColumnNames(),
		Selection: pt.Selection().String(),
		Levels:    levels,
		Naming:    naming,
	}, nil
}

// PreviewReport holds a bounded sample of derived rows.
type PreviewReport struct {
	Table   string     `json:"table"`
	Filter  string     `json:"filter,omitempty"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Preview returns up to limit derived rows. A limit of 0 uses the
// configured preview row limit.
func (a *App) Preview(ctx context.Context, name, filterExpr string, limit int) (*PreviewReport, error) {
	pt, err := a.workspace.PartitionTable(name)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = a.cfg.Preview.RowLimit
	}
	rows, err := pt.Preview(ctx, filterExpr, limit)
	if err != nil {
		return nil, err
	}
	return &PreviewReport{
		Table:   pt.Name(),
		Filter:  filterExpr,
		Columns: pt.SelectedColumnNames(),
		Rows:    rows,
	}, nil
}

// CountReport is an exact row count.
type CountReport struct {
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
	Level  *int   `json:"level,omitempty"`
	Rows   int    `json:"rows"`
}

// Count counts the rows of a partition table. With level >= 0 it counts
// the distinct rows of that level's nested table instead.
func (a *App) Count(ctx context.Context, name, filterExpr string, level int) (*CountReport, error) {
	pt, err := a.workspace.PartitionTable(name)
	if err != nil {
		return nil, err
	}
	report := &CountReport{Table: pt.Name(), Filter: filterExpr}

	target := pt
	if level >= 0 {
		report.Level = &level
		// the nested table honours the filter of the parent's pass; levels
		// below the top are anchored at the first matching row
		clone := pt.Clone()
		defer clone.Close()
		if err := clone.PrepareRows(ctx, filterExpr, partition.Unlimited); err != nil {
			return nil, err
		}
		if level > 0 {
			ok, err := clone.NextRow(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return report, nil
			}
		}
		nested, err := clone.LevelTable(level)
		if err != nil {
			return nil, err
		}
		target = nested
		filterExpr = ""
	}

	n, err := target.CountRows(ctx, filterExpr)
	if err != nil {
		return nil, err
	}
	report.Rows = n
	return report, nil
}

// Plan validates a named mapping without applying it.
func (a *App) Plan(ctx context.Context, mappingName string) (*mapping.Plan, error) {
	req, err := a.workspace.Request(mappingName)
	if err != nil {
		return nil, err
	}
	return a.engine.Plan(ctx, req)
}

// Apply applies a named mapping.
func (a *App) Apply(ctx context.Context, mappingName string) (*mapping.Result, error) {
	req, err := a.workspace.Request(mappingName)
	if err != nil {
		return nil, err
	}
	return a.engine.Apply(ctx, req)
}

// Instances expands the partition instances of a partition table.
func (a *App) Instances(ctx context.Context, name, namingColumn string) ([]mapping.Instance, error) {
	pt, err := a.workspace.PartitionTable(name)
	if err != nil {
		return nil, err
	}
	return a.engine.Instances(ctx, pt, namingColumn)
}

// Snapshot copies a partition table's source into a SQLite file, uploading
// it when the configuration asks for it.
func (a *App) Snapshot(ctx context.Context, name string) (*source.SnapshotInfo, error) {
	pt, err := a.workspace.PartitionTable(name)
	if err != nil {
		return nil, err
	}
	var store storage.ObjectStorage
	if a.cfg.Snapshot.Upload {
		store = a.storage
	}
	return source.NewSnapshotter(a.cfg.Snapshot.OutputDir, store, a.logger).Build(ctx, pt.Name(), pt.Source())
}

// ExportReport describes an exported value collection.
type ExportReport struct {
	Table   string   `json:"table"`
	Object  string   `json:"object"`
	Columns []string `json:"columns"`
	Rows    int      `json:"rows"`
}

// Export writes the derived values of every row of a partition table as a
// CSV object, snappy-compressed when objectPath ends in ".sz".
func (a *App) Export(ctx context.Context, name, filterExpr, objectPath string) (*ExportReport, error) {
	pt, err := a.workspace.PartitionTable(name)
	if err != nil {
		return nil, err
	}
	columns := pt.SelectedColumnNames()
	if len(columns) == 0 {
		return nil, apperrors.NewPartitionError(apperrors.CodeUnknownColumn,
			fmt.Sprintf("partition table %q has no selected columns", name))
	}
	rows, err := pt.Preview(ctx, filterExpr, partition.Unlimited)
	if err != nil {
		return nil, err
	}
	if err := source.WriteObject(ctx, a.storage, objectPath, columns, rows); err != nil {
		return nil, err
	}
	a.logger.Info("app: exported", "table", name, "object", objectPath, "rows", len(rows))
	return &ExportReport{Table: name, Object: objectPath, Columns: columns, Rows: len(rows)}, nil
}
