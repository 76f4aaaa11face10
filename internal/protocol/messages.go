// Package protocol defines the typed messages exchanged between the
// coordinator and remote workers over the persistent TCP channel.
// Messages are JSON envelopes with an explicit type enum; payloads are
// raw JSON decoded by the handler for that type.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the command/report enum of the wire protocol.
type MessageType string

const (
	// worker -> coordinator
	MessageRegisterWorker MessageType = "register_worker"
	MessageFileReport     MessageType = "file_report"

	// coordinator -> worker
	MessageDeleteFile     MessageType = "delete_file"
	MessageFileDiscovered MessageType = "file_discovered"
	MessageReprocessFiles MessageType = "reprocess_files"

	// both directions
	MessageAck MessageType = "ack"
)

// Envelope is the framing for every message on the wire.
type Envelope struct {
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope.
func NewEnvelope(t MessageType, correlationID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", t, err)
	}
	return Envelope{Type: t, CorrelationID: correlationID, Payload: data}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// RegisterWorker announces a connecting worker and its capabilities.
type RegisterWorker struct {
	WorkerID     string   `json:"worker_id"`
	Hostname     string   `json:"hostname,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// DeleteFile instructs a cleanup worker to archive-then-delete one
// file. ContentHash is the hash recorded at review time; the worker
// must refuse the delete when the on-disk hash differs.
type DeleteFile struct {
	JobID       string `json:"job_id"`
	FileID      string `json:"file_id"`
	FilePath    string `json:"file_path"`
	ContentHash string `json:"content_hash"`
	SizeBytes   int64  `json:"size_bytes"`
	Category    string `json:"category"`
}

// FileDiscovered streams a newly hashed file to an indexing worker in
// distributed mode. The raw bytes were uploaded to ObjectKey before
// this message was sent.
type FileDiscovered struct {
	IndexedFileID   string    `json:"indexed_file_id,omitempty"`
	ScanDirectoryID string    `json:"scan_directory_id"`
	FilePath        string    `json:"file_path"`
	FileName        string    `json:"file_name"`
	ContentHash     string    `json:"content_hash"`
	SizeBytes       int64     `json:"size_bytes"`
	ModifiedAt      time.Time `json:"modified_at"`
	ObjectKey       string    `json:"object_key"`
}

// ReprocessFiles asks an indexing worker to re-extract metadata for
// already-indexed files.
type ReprocessFiles struct {
	FileIDs   []string `json:"file_ids"`
	FilePaths []string `json:"file_paths"`
}

// FileReport is the worker's per-file outcome for any command.
type FileReport struct {
	JobID      string `json:"job_id,omitempty"`
	FileID     string `json:"file_id"`
	Status     string `json:"status"` // "deleted", "failed", "indexed"
	ArchiveKey string `json:"archive_key,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`

	// Metadata is set on "indexed" reports from indexing workers.
	Metadata *CaptureInfo `json:"metadata,omitempty"`
}

// CaptureInfo carries the image metadata an indexing worker extracted.
type CaptureInfo struct {
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	Thumbnail   []byte     `json:"thumbnail,omitempty"`
}

// Ack acknowledges a message that carries no report.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
