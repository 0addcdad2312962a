package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/filter"
	"github.com/martforge/martforge/internal/partition"
	"github.com/martforge/martforge/internal/storage"
)

// SnapshotPrefix is the object prefix snapshots are uploaded under.
const SnapshotPrefix = "snapshots/"

// SnapshotInfo describes a SQLite snapshot of a row source.
type SnapshotInfo struct {
	ID         string    `json:"id"`
	Table      string    `json:"table"`
	Columns    []string  `json:"columns"`
	SQLitePath string    `json:"sqlite_path"`
	ObjectPath string    `json:"object_path,omitempty"`
	RowCount   int64     `json:"row_count"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// Snapshotter copies row sources into SQLite files, which DistinctSource
// can then read.
type Snapshotter struct {
	outputDir string
	store     storage.ObjectStorage
	logger    *slog.Logger
}

// NewSnapshotter creates a snapshotter writing to outputDir. When store is
// non-nil each snapshot is also uploaded under SnapshotPrefix.
func NewSnapshotter(outputDir string, store storage.ObjectStorage, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Snapshotter{outputDir: outputDir, store: store, logger: logger}
}

// Build writes every row of src into table of a new SQLite file. Values are
// stored as TEXT; a column missing from a row is stored as NULL.
func (s *Snapshotter) Build(ctx context.Context, table string, src partition.RowSource) (*SnapshotInfo, error) {
	columns := src.Columns()
	if len(columns) == 0 {
		return nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
			"snapshot: cannot snapshot a source without columns", nil)
	}

	id := uuid.New().String()
	createdAt := time.Now()

	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: failed to create output directory: %w", err)
	}
	sqlitePath := filepath.Clean(filepath.Join(s.outputDir, fmt.Sprintf("%s-%s.sqlite", table, id[:8])))

	rowCount, err := s.write(ctx, sqlitePath, table, columns, src)
	if err != nil {
		os.Remove(sqlitePath)
		return nil, err
	}

	fileInfo, err := os.Stat(sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to stat SQLite file: %w", err)
	}

	info := &SnapshotInfo{
		ID:         id,
		Table:      table,
		Columns:    columns,
		SQLitePath: sqlitePath,
		RowCount:   rowCount,
		SizeBytes:  fileInfo.Size(),
		CreatedAt:  createdAt,
	}

	if s.store != nil {
		info.ObjectPath = SnapshotPrefix + filepath.Base(sqlitePath)
		if err := s.store.Upload(ctx, sqlitePath, info.ObjectPath); err != nil {
			return nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
				fmt.Sprintf("snapshot: failed to upload %s", info.ObjectPath), err)
		}
	}

	s.logger.Info("snapshot: built",
		"table", table, "id", id, "rows", rowCount, "bytes", info.SizeBytes, "path", sqlitePath)
	return info, nil
}

func (s *Snapshotter) write(ctx context.Context, path, table string, columns []string, src partition.RowSource) (int64, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return 0, fmt.Errorf("snapshot: failed to create SQLite database: %w", err)
	}
	defer db.Close()

	// WAL while loading
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return 0, fmt.Errorf("snapshot: failed to set journal mode: %w", err)
	}

	quoted := make([]string, len(columns))
	defs := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = filter.QuoteIdent(c)
		defs[i] = quoted[i] + " TEXT"
		marks[i] = "?"
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", filter.QuoteIdent(table), strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("snapshot: failed to create table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("snapshot: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		filter.QuoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("snapshot: failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	iter, err := src.Scan(ctx, nil, partition.Unlimited)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var count int64
	args := make([]interface{}, len(columns))
	for {
		rec, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		for i, c := range columns {
			if v, ok := rec[c]; ok {
				args[i] = v
			} else {
				args[i] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("snapshot: failed to insert row: %w", err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("snapshot: failed to commit: %w", err)
	}

	// Checkpoint WAL and switch to DELETE mode so the file stands alone
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return 0, fmt.Errorf("snapshot: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return 0, fmt.Errorf("snapshot: failed to set journal mode to DELETE: %w", err)
	}

	if err := db.Close(); err != nil {
		return 0, fmt.Errorf("snapshot: failed to close database: %w", err)
	}
	return count, nil
}

// FetchSQLite downloads a SQLite object into cacheDir unless a copy is
// already there, and returns the local path.
func FetchSQLite(ctx context.Context, store storage.ObjectStorage, objectPath, cacheDir string) (string, error) {
	localPath := filepath.Join(cacheDir, filepath.Base(filepath.FromSlash(objectPath)))
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}
	if err := store.Download(ctx, objectPath, localPath); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", apperrors.NewSourceError(apperrors.CodeObjectNotFound,
				fmt.Sprintf("SQLite object %s not found", objectPath), err)
		}
		return "", apperrors.NewSourceError(apperrors.CodeDerivationFailed,
			fmt.Sprintf("failed to download %s", objectPath), err)
	}
	return localPath, nil
}
