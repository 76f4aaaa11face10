package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HashedFile is a scanned file whose content hash has been computed.
type HashedFile struct {
	ScannedFile
	ContentHash string
}

// Ingestor turns a batch of hashed files into index records. The two
// implementations (local extraction and remote streaming) are
// configuration-selected and mutually exclusive within a batch.
type Ingestor interface {
	Ingest(ctx context.Context, files []HashedFile) (*BatchResult, error)
}

// CaptureMetadata is the optional image metadata extracted locally.
type CaptureMetadata struct {
	TakenAt     *time.Time
	CameraModel string
	Width       int
	Height      int
	Thumbnail   []byte
}

// MetadataExtractor pulls capture metadata and a thumbnail from an
// image file. Extraction failure is non-fatal; the file is indexed
// without metadata.
type MetadataExtractor interface {
	Extract(ctx context.Context, path string) (*CaptureMetadata, error)
}

// LocalIngestor extracts metadata in-process and submits a structured
// batch to the index store. Extraction fans out per file under the same
// bounded parallelism as hashing.
type LocalIngestor struct {
	store       IndexStore
	extractor   MetadataExtractor
	maxParallel int
	clock       Clock
	logger      Logger
}

var _ Ingestor = (*LocalIngestor)(nil)

// NewLocalIngestor creates a LocalIngestor.
func NewLocalIngestor(store IndexStore, extractor MetadataExtractor, maxParallel int, clock Clock, logger Logger) *LocalIngestor {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &LocalIngestor{
		store:       store,
		extractor:   extractor,
		maxParallel: maxParallel,
		clock:       clock,
		logger:      logger,
	}
}

// Ingest extracts metadata for each file and upserts the batch.
func (li *LocalIngestor) Ingest(ctx context.Context, files []HashedFile) (*BatchResult, error) {
	entries := make([]IngestEntry, len(files))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(li.maxParallel)

	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			entry := IngestEntry{
				FilePath:    f.FullPath,
				FileName:    f.FileName,
				Extension:   f.Extension,
				ContentHash: f.ContentHash,
				SizeBytes:   f.SizeBytes,
				CreatedAt:   li.clock.Now().UTC(),
				ModifiedAt:  f.ModifiedAt,
			}

			meta, err := li.extractor.Extract(gctx, f.FullPath)
			if err != nil {
				li.logger.Debug("metadata extraction failed", "path", f.FullPath, "error", err)
			} else if meta != nil {
				entry.TakenAt = meta.TakenAt
				entry.CameraModel = meta.CameraModel
				entry.Width = meta.Width
				entry.Height = meta.Height
				entry.Thumbnail = meta.Thumbnail
			}

			mu.Lock()
			entries[i] = entry
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	result, err := li.store.SaveBatch(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("saving batch: %w", err)
	}
	return result, nil
}

// NopExtractor returns no metadata. Used when extraction is disabled
// and in tests.
type NopExtractor struct{}

func (NopExtractor) Extract(context.Context, string) (*CaptureMetadata, error) {
	return nil, nil
}
