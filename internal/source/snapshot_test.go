package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/partition"
)

func TestSnapshotter_Build(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	outDir := t.TempDir()

	rows := []partition.Record{
		{"continent": "EU", "country": "France"},
		{"continent": "EU", "country": "France"},
		{"continent": "EU"},
		{"continent": "US", "country": "USA"},
	}
	src := partition.NewCollectionSource([]string{"continent", "country"}, rows)

	info, err := NewSnapshotter(outDir, store, nil).Build(ctx, "geo", src)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if info.ID == "" {
		t.Error("expected snapshot ID")
	}
	if info.RowCount != int64(len(rows)) {
		t.Errorf("expected %d rows, got %d", len(rows), info.RowCount)
	}
	if info.SizeBytes <= 0 {
		t.Error("expected non-empty file")
	}
	if !strings.HasPrefix(filepath.Base(info.SQLitePath), "geo-") {
		t.Errorf("unexpected file name %s", info.SQLitePath)
	}
	if !strings.HasPrefix(info.ObjectPath, SnapshotPrefix) {
		t.Errorf("unexpected object path %s", info.ObjectPath)
	}
	uploaded, err := store.Get(ctx, info.ObjectPath)
	if err != nil || int64(len(uploaded)) != info.SizeBytes {
		t.Errorf("snapshot not uploaded: %v", err)
	}

	// WAL was checkpointed away
	if _, err := os.Stat(info.SQLitePath + "-wal"); err == nil {
		t.Error("unexpected WAL file")
	}

	distinct, err := OpenDistinctSource(ctx, info.SQLitePath, "geo", nil, nil)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer distinct.Close()

	got := collect(t, distinct, "", partition.Unlimited, "continent", "country")
	if strings.Join(got, ",") != "EU/<null>,EU/France,US/USA" {
		t.Errorf("unexpected snapshot rows %v", got)
	}
}

func TestSnapshotter_NoUpload(t *testing.T) {
	ctx := context.Background()
	src := partition.NewSingleValueSource("year", "2024")

	info, err := NewSnapshotter(t.TempDir(), nil, nil).Build(ctx, "years", src)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if info.ObjectPath != "" {
		t.Errorf("expected no object path, got %s", info.ObjectPath)
	}
	if info.RowCount != 1 {
		t.Errorf("expected 1 row, got %d", info.RowCount)
	}
}

func TestFetchSQLite(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	info, err := NewSnapshotter(t.TempDir(), store, nil).Build(ctx, "years", partition.NewSingleValueSource("year", "2024"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	cacheDir := t.TempDir()
	local, err := FetchSQLite(ctx, store, info.ObjectPath, cacheDir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if filepath.Dir(local) != cacheDir {
		t.Errorf("expected file in cache dir, got %s", local)
	}

	src, err := OpenDistinctSource(ctx, local, "years", nil, nil)
	if err != nil {
		t.Fatalf("open fetched snapshot: %v", err)
	}
	src.Close()

	// Cached copies are reused even when the store does not hold the object.
	if _, err := FetchSQLite(ctx, newStore(t), info.ObjectPath, cacheDir); err != nil {
		t.Errorf("expected cached copy, got %v", err)
	}

	if _, err := FetchSQLite(ctx, store, "snapshots/missing.sqlite", cacheDir); !errors.Is(err, apperrors.ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}
