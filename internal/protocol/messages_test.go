package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	cmd := DeleteFile{
		JobID:       "job-1",
		FileID:      "file-9",
		FilePath:    "/photos/dup.jpg",
		ContentHash: "abc123",
		SizeBytes:   4096,
		Category:    "hash_duplicate",
	}

	env, err := NewEnvelope(MessageDeleteFile, "corr-7", cmd)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	// Over the wire: one JSON document per message.
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(env); err != nil {
		t.Fatalf("encoding: %v", err)
	}
	var received Envelope
	if err := json.NewDecoder(&buf).Decode(&received); err != nil {
		t.Fatalf("decoding: %v", err)
	}

	if received.Type != MessageDeleteFile || received.CorrelationID != "corr-7" {
		t.Errorf("header = %s/%s", received.Type, received.CorrelationID)
	}

	var decoded DeleteFile
	if err := received.Decode(&decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded != cmd {
		t.Errorf("payload = %+v, want %+v", decoded, cmd)
	}
}

func TestEnvelope_FileReportWithMetadata(t *testing.T) {
	taken := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	report := FileReport{
		FileID: "file-1",
		Status: "indexed",
		Metadata: &CaptureInfo{
			TakenAt:     &taken,
			CameraModel: "PixelPerfect 9",
			Width:       4000,
			Height:      3000,
			Thumbnail:   []byte{0x89, 0x50, 0x4e, 0x47},
		},
	}

	env, err := NewEnvelope(MessageFileReport, "", report)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	var decoded FileReport
	if err := env.Decode(&decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Metadata == nil {
		t.Fatal("metadata dropped in transit")
	}
	if !decoded.Metadata.TakenAt.Equal(taken) {
		t.Errorf("TakenAt = %v, want %v", decoded.Metadata.TakenAt, taken)
	}
	if decoded.Metadata.CameraModel != "PixelPerfect 9" || decoded.Metadata.Width != 4000 {
		t.Errorf("metadata = %+v", decoded.Metadata)
	}
	if !bytes.Equal(decoded.Metadata.Thumbnail, report.Metadata.Thumbnail) {
		t.Error("thumbnail bytes mangled")
	}
}
