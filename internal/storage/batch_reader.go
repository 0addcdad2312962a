package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchReader reads several objects into memory in parallel.
type BatchReader struct {
	storage     ObjectStorage
	concurrency int
}

// BatchResult contains the outcome of a batch read. Data and Errors are
// keyed by object path; every requested path appears in exactly one.
type BatchResult struct {
	Data   map[string][]byte
	Errors map[string]error
}

// Err returns the error of the first path in paths that failed, or nil.
func (r *BatchResult) Err(paths []string) error {
	for _, p := range paths {
		if err, ok := r.Errors[p]; ok {
			return fmt.Errorf("read %s: %w", p, err)
		}
	}
	return nil
}

// NewBatchReader creates a new batch reader.
// storage: the ObjectStorage implementation to read from
// concurrency: maximum number of parallel reads (values below 1 mean 1)
func NewBatchReader(storage ObjectStorage, concurrency int) *BatchReader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchReader{
		storage:     storage,
		concurrency: concurrency,
	}
}

// Read reads all objectPaths. Failures of individual objects are reported
// in the result rather than aborting the batch.
func (b *BatchReader) Read(ctx context.Context, objectPaths []string) *BatchResult {
	result := &BatchResult{
		Data:   make(map[string][]byte, len(objectPaths)),
		Errors: make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled
			mu.Lock()
			result.Errors[p] = err
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(path string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := b.storage.Get(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[path] = err
				return
			}
			result.Data[path] = data
		}(p)
	}

	wg.Wait()
	return result
}
