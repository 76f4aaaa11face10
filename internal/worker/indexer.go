package worker

import (
	"context"
	"fmt"
	"os"

	"dedup-go/internal/dedup"
	"dedup-go/internal/protocol"
)

// Indexer is the worker side of distributed indexing: it pulls staged
// bytes from the archive store, runs metadata extraction, and reports
// the result back.
type Indexer struct {
	archive   dedup.Archive
	extractor dedup.MetadataExtractor
	logger    dedup.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(archive dedup.Archive, extractor dedup.MetadataExtractor, logger dedup.Logger) *Indexer {
	return &Indexer{archive: archive, extractor: extractor, logger: logger}
}

// IndexDiscovered downloads the staged object and extracts metadata.
func (ix *Indexer) IndexDiscovered(ctx context.Context, fd protocol.FileDiscovered) protocol.FileReport {
	report := protocol.FileReport{
		FileID: fd.IndexedFileID,
		Status: string(dedup.JobFileFailed),
	}

	tmp, err := os.CreateTemp("", "dedup-ingest-*")
	if err != nil {
		report.Error = fmt.Sprintf("creating temp file: %v", err)
		return report
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	err = ix.archive.Get(ctx, fd.ObjectKey, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		report.Error = fmt.Sprintf("downloading %s: %v", fd.ObjectKey, err)
		return report
	}

	meta, err := ix.extractor.Extract(ctx, tmpPath)
	if err != nil {
		// Extraction failure is non-fatal: the file is indexed bare.
		ix.logger.Debug("metadata extraction failed", "path", fd.FilePath, "error", err)
	}

	report.Status = "indexed"
	if meta != nil {
		report.Metadata = &protocol.CaptureInfo{
			TakenAt:     meta.TakenAt,
			CameraModel: meta.CameraModel,
			Width:       meta.Width,
			Height:      meta.Height,
			Thumbnail:   meta.Thumbnail,
		}
	}
	return report
}

// Reprocess re-extracts metadata for local files and streams one
// report per file through send. Used when extraction rules improve and
// already-indexed files should be refreshed.
func (ix *Indexer) Reprocess(ctx context.Context, rp protocol.ReprocessFiles, send func(protocol.Envelope) error) {
	for i, path := range rp.FilePaths {
		if ctx.Err() != nil {
			return
		}
		var fileID string
		if i < len(rp.FileIDs) {
			fileID = rp.FileIDs[i]
		}

		report := protocol.FileReport{FileID: fileID, Status: "indexed"}
		meta, err := ix.extractor.Extract(ctx, path)
		if err != nil {
			report.Status = string(dedup.JobFileFailed)
			report.Error = err.Error()
		} else if meta != nil {
			report.Metadata = &protocol.CaptureInfo{
				TakenAt:     meta.TakenAt,
				CameraModel: meta.CameraModel,
				Width:       meta.Width,
				Height:      meta.Height,
				Thumbnail:   meta.Thumbnail,
			}
		}

		env, err := protocol.NewEnvelope(protocol.MessageFileReport, "", report)
		if err != nil {
			ix.logger.Error("building reprocess report", "path", path, "error", err)
			continue
		}
		if err := send(env); err != nil {
			ix.logger.Warn("sending reprocess report failed", "path", path, "error", err)
			return
		}
	}
}
