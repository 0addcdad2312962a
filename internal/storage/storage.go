// Package storage provides the object storage that value-collection row
// sources and table snapshots are kept in.
package storage

import (
	"context"
	"errors"
)

// Errors returned by every ObjectStorage implementation.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
)

// ObjectStorage holds value-collection objects and snapshot files.
// Object paths are slash separated whatever the backend.
type ObjectStorage interface {
	// Get reads a whole object into memory.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Put writes data as an object, replacing any existing object.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Upload streams a local file into an object.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download streams an object into a local file, creating its directory.
	Download(ctx context.Context, objectPath, localPath string) error

	// ListObjects returns the paths of all objects under prefix, sorted.
	// A prefix with no objects yields an empty list.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
