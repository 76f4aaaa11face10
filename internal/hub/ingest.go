package hub

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"dedup-go/internal/dedup"
	"dedup-go/internal/protocol"
)

// ingestPrefix is the archive namespace for raw bytes handed to remote
// indexing workers. Objects here are transient and keyed by content
// hash, so re-uploads of the same content are idempotent.
const ingestPrefix = "ingest/"

// IngestKey returns the archive key for a file staged for remote
// indexing.
func IngestKey(contentHash string) string {
	return ingestPrefix + contentHash
}

// RemoteIngestor implements distributed-mode ingest: raw bytes are
// uploaded to the archive store under an ingest key, a connected
// indexing worker extracts metadata from the staged object, and the
// coordinator persists the resulting batch.
type RemoteIngestor struct {
	store       dedup.IndexStore
	archive     dedup.Archive
	hub         *Hub
	maxParallel int
	clock       dedup.Clock
	logger      dedup.Logger
}

var _ dedup.Ingestor = (*RemoteIngestor)(nil)

// NewRemoteIngestor creates a RemoteIngestor.
func NewRemoteIngestor(store dedup.IndexStore, archive dedup.Archive, hub *Hub, maxParallel int, clock dedup.Clock, logger dedup.Logger) *RemoteIngestor {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &RemoteIngestor{
		store:       store,
		archive:     archive,
		hub:         hub,
		maxParallel: maxParallel,
		clock:       clock,
		logger:      logger,
	}
}

// Ingest stages each file for remote metadata extraction and saves the
// batch. A file that cannot be staged or reported on is recorded as a
// per-item failure; the rest of the batch proceeds.
func (ri *RemoteIngestor) Ingest(ctx context.Context, files []dedup.HashedFile) (*dedup.BatchResult, error) {
	if !ri.hub.HasWorker(dedup.CapabilityIndexing) {
		return nil, dedup.ErrNoWorkerConnected
	}

	var mu sync.Mutex
	var entries []dedup.IngestEntry
	var failures []dedup.IngestError

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ri.maxParallel)

	for _, f := range files {
		f := f
		g.Go(func() error {
			entry, err := ri.ingestOne(gctx, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ri.logger.Warn("remote ingest failed", "path", f.FullPath, "error", err)
				failures = append(failures, dedup.IngestError{FilePath: f.FullPath, Message: err.Error()})
				return nil
			}
			entries = append(entries, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	result := &dedup.BatchResult{}
	if len(entries) > 0 {
		saved, err := ri.store.SaveBatch(ctx, entries)
		if err != nil {
			return nil, fmt.Errorf("saving batch: %w", err)
		}
		result = saved
	}
	result.Failed += len(failures)
	result.Errors = append(result.Errors, failures...)
	return result, nil
}

// ingestOne uploads the file bytes and asks a worker to index them.
func (ri *RemoteIngestor) ingestOne(ctx context.Context, f dedup.HashedFile) (dedup.IngestEntry, error) {
	entry := dedup.IngestEntry{
		FilePath:    f.FullPath,
		FileName:    f.FileName,
		Extension:   f.Extension,
		ContentHash: f.ContentHash,
		SizeBytes:   f.SizeBytes,
		CreatedAt:   ri.clock.Now().UTC(),
		ModifiedAt:  f.ModifiedAt,
	}

	key := IngestKey(f.ContentHash)
	src, err := os.Open(f.FullPath)
	if err != nil {
		return entry, fmt.Errorf("opening file: %w", err)
	}
	err = ri.archive.Put(ctx, key, src, f.SizeBytes)
	src.Close()
	if err != nil {
		return entry, fmt.Errorf("staging bytes: %w", err)
	}

	report, err := ri.hub.SendFileDiscovered(ctx, protocol.FileDiscovered{
		FilePath:    f.FullPath,
		FileName:    f.FileName,
		ContentHash: f.ContentHash,
		SizeBytes:   f.SizeBytes,
		ModifiedAt:  f.ModifiedAt,
		ObjectKey:   key,
	})
	if err != nil {
		return entry, fmt.Errorf("notifying worker: %w", err)
	}
	if report.Status != "indexed" {
		return entry, fmt.Errorf("worker reported %s: %s", report.Status, report.Error)
	}

	if report.Metadata != nil {
		entry.TakenAt = report.Metadata.TakenAt
		entry.CameraModel = report.Metadata.CameraModel
		entry.Width = report.Metadata.Width
		entry.Height = report.Metadata.Height
		entry.Thumbnail = report.Metadata.Thumbnail
	}
	return entry, nil
}
