package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/filter"
	"github.com/martforge/martforge/internal/partition"
	"github.com/martforge/martforge/internal/storage"
)

// CompressedSuffix marks snappy-compressed objects.
const CompressedSuffix = ".sz"

// ObjectSource is a value collection stored as one or more CSV objects.
// The first record of each object is its header; all objects must share
// the same header. Objects are read when the source is opened.
type ObjectSource struct {
	paths      []string
	collection *partition.CollectionSource
}

// OpenObjectSource reads and decodes the objects at paths, in parallel
// with at most concurrency reads in flight.
func OpenObjectSource(ctx context.Context, store storage.ObjectStorage, paths []string, concurrency int) (*ObjectSource, error) {
	if len(paths) == 0 {
		return nil, apperrors.NewSourceError(apperrors.CodeObjectNotFound, "no objects given", nil)
	}

	result := storage.NewBatchReader(store, concurrency).Read(ctx, paths)
	if err := result.Err(paths); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, apperrors.NewSourceError(apperrors.CodeObjectNotFound, "value collection object missing", err)
		}
		return nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed, "failed to read value collection", err)
	}

	var header []string
	var rows []partition.Record
	for _, p := range paths {
		cols, recs, err := DecodeCSV(p, result.Data[p])
		if err != nil {
			return nil, err
		}
		if header == nil {
			header = cols
		} else if strings.Join(cols, "\x00") != strings.Join(header, "\x00") {
			return nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
				fmt.Sprintf("object %s header %v differs from %v", p, cols, header), nil)
		}
		rows = append(rows, recs...)
	}

	return &ObjectSource{
		paths:      append([]string(nil), paths...),
		collection: partition.NewCollectionSource(header, rows),
	}, nil
}

// OpenObjectPrefix opens every object under prefix whose name ends in
// .csv or .csv.sz, in path order.
func OpenObjectPrefix(ctx context.Context, store storage.ObjectStorage, prefix string, concurrency int) (*ObjectSource, error) {
	objects, err := store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
			fmt.Sprintf("failed to list %s", prefix), err)
	}
	var paths []string
	for _, o := range objects {
		if strings.HasSuffix(o, ".csv") || strings.HasSuffix(o, ".csv"+CompressedSuffix) {
			paths = append(paths, o)
		}
	}
	if len(paths) == 0 {
		return nil, apperrors.NewSourceError(apperrors.CodeObjectNotFound,
			fmt.Sprintf("no CSV objects under %s", prefix), nil)
	}
	return OpenObjectSource(ctx, store, paths, concurrency)
}

// Paths returns the object paths the source was read from.
func (s *ObjectSource) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Columns implements partition.RowSource.
func (s *ObjectSource) Columns() []string {
	return s.collection.Columns()
}

// Len returns the number of rows read.
func (s *ObjectSource) Len() int {
	return s.collection.Len()
}

// Scan implements partition.RowSource.
func (s *ObjectSource) Scan(ctx context.Context, where filter.Expression, limit int) (partition.RowIterator, error) {
	return s.collection.Scan(ctx, where, limit)
}

// DecodeCSV parses a CSV object, decompressing it first when name ends in
// CompressedSuffix. Short records leave their trailing columns unset.
func DecodeCSV(name string, data []byte) ([]string, []partition.Record, error) {
	if strings.HasSuffix(name, CompressedSuffix) {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
				fmt.Sprintf("failed to decompress %s", name), err)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
			fmt.Sprintf("object %s has no header", name), nil)
	}
	if err != nil {
		return nil, nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
			fmt.Sprintf("failed to parse %s", name), err)
	}

	var rows []partition.Record
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, apperrors.NewSourceError(apperrors.CodeDerivationFailed,
				fmt.Sprintf("failed to parse %s", name), err)
		}
		rec := make(partition.Record, len(header))
		for i, col := range header {
			if i < len(fields) {
				rec[col] = fields[i]
			}
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

// EncodeCSV renders rows as a CSV object with a header, compressing it when
// name ends in CompressedSuffix.
func EncodeCSV(name string, columns []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	if strings.HasSuffix(name, CompressedSuffix) {
		return snappy.Encode(nil, buf.Bytes()), nil
	}
	return buf.Bytes(), nil
}

// WriteObject stores rows as a CSV object.
func WriteObject(ctx context.Context, store storage.ObjectStorage, name string, columns []string, rows [][]string) error {
	data, err := EncodeCSV(name, columns, rows)
	if err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to encode %s", name), err)
	}
	if err := store.Put(ctx, name, data); err != nil {
		return apperrors.NewSourceError(apperrors.CodeDerivationFailed, fmt.Sprintf("failed to write %s", name), err)
	}
	return nil
}
