package worker_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"dedup-go/internal/archive"
	"dedup-go/internal/dedup"
	"dedup-go/internal/protocol"
	"dedup-go/internal/worker"
)

// stampExtractor returns fixed metadata for every file.
type stampExtractor struct {
	meta *dedup.CaptureMetadata
	err  error
}

func (e stampExtractor) Extract(context.Context, string) (*dedup.CaptureMetadata, error) {
	return e.meta, e.err
}

func TestIndexer_IndexDiscovered(t *testing.T) {
	arch := archive.NewMemoryArchive()
	content := "staged photo bytes"
	if err := arch.Put(context.Background(), "ingest/hash-1", strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("staging object: %v", err)
	}

	taken := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	ix := worker.NewIndexer(arch, stampExtractor{meta: &dedup.CaptureMetadata{
		TakenAt:     &taken,
		CameraModel: "PixelPerfect 9",
		Width:       4000,
		Height:      3000,
	}}, dedup.NewNopLogger())

	report := ix.IndexDiscovered(context.Background(), protocol.FileDiscovered{
		IndexedFileID: "file-1",
		FilePath:      "/photos/a.jpg",
		ContentHash:   "hash-1",
		ObjectKey:     "ingest/hash-1",
	})

	if report.Status != "indexed" || report.FileID != "file-1" {
		t.Fatalf("report = %+v", report)
	}
	if report.Metadata == nil || report.Metadata.CameraModel != "PixelPerfect 9" {
		t.Errorf("metadata = %+v", report.Metadata)
	}
	if report.Metadata.TakenAt == nil || !report.Metadata.TakenAt.Equal(taken) {
		t.Errorf("TakenAt = %v", report.Metadata.TakenAt)
	}
}

func TestIndexer_MissingStagedObjectFails(t *testing.T) {
	ix := worker.NewIndexer(archive.NewMemoryArchive(), stampExtractor{}, dedup.NewNopLogger())

	report := ix.IndexDiscovered(context.Background(), protocol.FileDiscovered{
		IndexedFileID: "file-1",
		ObjectKey:     "ingest/never-staged",
	})
	if report.Status != string(dedup.JobFileFailed) || report.Error == "" {
		t.Errorf("report = %+v, want failed with an error", report)
	}
}

func TestIndexer_Reprocess(t *testing.T) {
	ix := worker.NewIndexer(archive.NewMemoryArchive(), stampExtractor{meta: &dedup.CaptureMetadata{
		CameraModel: "PixelPerfect 9",
	}}, dedup.NewNopLogger())

	var sent []protocol.Envelope
	ix.Reprocess(context.Background(), protocol.ReprocessFiles{
		FileIDs:   []string{"f1", "f2"},
		FilePaths: []string{"/photos/a.jpg", "/photos/b.jpg"},
	}, func(env protocol.Envelope) error {
		sent = append(sent, env)
		return nil
	})

	if len(sent) != 2 {
		t.Fatalf("sent %d reports, want 2", len(sent))
	}
	for i, env := range sent {
		if env.Type != protocol.MessageFileReport || env.CorrelationID != "" {
			t.Errorf("report %d header = %s/%q, want uncorrelated file_report", i, env.Type, env.CorrelationID)
		}
		var report protocol.FileReport
		if err := env.Decode(&report); err != nil {
			t.Fatalf("decoding report %d: %v", i, err)
		}
		if report.Status != "indexed" || report.Metadata == nil {
			t.Errorf("report %d = %+v", i, report)
		}
	}
}
