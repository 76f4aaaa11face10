package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dedup-go/internal/dedup"
)

// WriteFile writes content to dir/name, creating parent directories.
// Returns the absolute path.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// Entry builds an IngestEntry for path with the given content hash.
func Entry(path, hash string, size int64, at time.Time) dedup.IngestEntry {
	return dedup.IngestEntry{
		FilePath:    path,
		FileName:    filepath.Base(path),
		Extension:   filepath.Ext(path),
		ContentHash: hash,
		SizeBytes:   size,
		CreatedAt:   at,
		ModifiedAt:  at,
	}
}

// Ingest saves entries through the store and fails the test on any
// per-item error.
func Ingest(t *testing.T, store dedup.IndexStore, entries ...dedup.IngestEntry) {
	t.Helper()

	result, err := store.SaveBatch(context.Background(), entries)
	if err != nil {
		t.Fatalf("saving batch: %v", err)
	}
	if result.Failed != 0 {
		t.Fatalf("batch had %d failures: %+v", result.Failed, result.Errors)
	}
}
