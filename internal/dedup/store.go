package dedup

import (
	"context"
	"time"
)

// PathStamp pairs a file path with its on-disk modification time for
// the pre-flight staleness check.
type PathStamp struct {
	Path       string
	ModifiedAt time.Time
}

// IngestEntry is one file submitted in a structured ingest batch.
type IngestEntry struct {
	FilePath    string
	FileName    string
	Extension   string
	ContentHash string
	SizeBytes   int64
	CreatedAt   time.Time
	ModifiedAt  time.Time

	TakenAt     *time.Time
	CameraModel string
	Width       int
	Height      int
	Thumbnail   []byte
}

// IngestError describes one failed item in a batch ingest.
type IngestError struct {
	FilePath string
	Message  string
}

// BatchResult reports the outcome of a batch ingest.
type BatchResult struct {
	Succeeded int
	Failed    int
	Errors    []IngestError
}

// HashGroup is one content hash shared by two or more indexed files.
type HashGroup struct {
	ContentHash string
	FileCount   int
}

// IndexStore provides the metadata storage operations of the
// coordinator. All methods must be safe for concurrent use.
type IndexStore interface {
	// Scan directory operations

	// CreateScanDirectory registers a new scan root. Registering an
	// already-known path returns the existing record.
	CreateScanDirectory(path string, recursive bool) (*ScanDirectory, error)

	// ListScanDirectories returns scan roots; when enabledOnly is true,
	// disabled roots are omitted.
	ListScanDirectories(enabledOnly bool) ([]*ScanDirectory, error)

	// SetScanDirectoryEnabled toggles a scan root.
	SetScanDirectoryEnabled(id string, enabled bool) error

	// Indexed file operations

	// FindFileByPath returns the indexed file at path, or nil.
	FindFileByPath(path string) (*IndexedFile, error)

	// FindFileByID returns the indexed file with the given ID, or nil.
	FindFileByID(id string) (*IndexedFile, error)

	// FilterNeedsReindex returns the subset of paths that are new or
	// whose on-disk modification time strictly exceeds the stored
	// IndexedAt. Everything else is already current and must not be
	// re-hashed.
	FilterNeedsReindex(ctx context.Context, stamps []PathStamp) ([]string, error)

	// SaveBatch upserts a batch of ingested files. Per-item failures
	// are reported in the result, not as an error.
	SaveBatch(ctx context.Context, entries []IngestEntry) (*BatchResult, error)

	// MarkFileFailed records an ingest failure for the path: sets
	// LastError and increments RetryCount. Unknown paths create a stub
	// record so the failure is visible to later cycles.
	MarkFileFailed(path string, reason string) error

	// SetFileHidden hides or unhides a file. Hidden files never take
	// part in original selection or cleanup.
	SetFileHidden(id string, hidden bool, reason string) error

	// SetFileDuplicate updates the duplicate flag of a file.
	SetFileDuplicate(id string, isDuplicate bool) error

	// AssignFileToGroup sets the group back-reference and duplicate
	// flag of a file in one step.
	AssignFileToGroup(fileID, groupID string, isDuplicate bool) error

	// FindDuplicateHashes returns every content hash shared by at
	// least two indexed files.
	FindDuplicateHashes(ctx context.Context) ([]HashGroup, error)

	// FindFilesByHash returns all files with the given content hash,
	// ordered by IndexedAt then path.
	FindFilesByHash(hash string) ([]*IndexedFile, error)

	// FindFilesByGroup returns all members of a group, ordered by
	// IndexedAt then path.
	FindFilesByGroup(groupID string) ([]*IndexedFile, error)

	// Duplicate group operations

	// FindGroupByHash returns the group with the given content hash, or nil.
	FindGroupByHash(hash string) (*DuplicateGroup, error)

	// FindGroupByID returns the group with the given ID, or nil.
	FindGroupByID(id string) (*DuplicateGroup, error)

	// CreateGroup persists a new duplicate group.
	CreateGroup(g *DuplicateGroup) error

	// UpdateGroup persists status, kept file, aggregates and timestamps.
	UpdateGroup(g *DuplicateGroup) error

	// ListGroupsByStatus returns groups in any of the given statuses.
	ListGroupsByStatus(statuses ...GroupStatus) ([]*DuplicateGroup, error)

	// Cleanup job operations

	// CreateCleanupJob persists a job and its ordered file entries.
	CreateCleanupJob(job *CleanupJob, files []*CleanupJobFile) error

	// FindCleanupJob returns a job by ID, or nil.
	FindCleanupJob(id string) (*CleanupJob, error)

	// FindJobFiles returns the ordered file entries of a job.
	FindJobFiles(jobID string) ([]*CleanupJobFile, error)

	// UpdateCleanupJob persists job status and timestamps.
	UpdateCleanupJob(job *CleanupJob) error

	// UpdateJobFileStatus updates one file entry of a job.
	UpdateJobFileStatus(jobID, fileID string, status JobFileStatus, errorKind string) error

	// Scan cycle operations

	// CreateScanCycle records the start of an operation.
	CreateScanCycle(operation string) (*ScanCycle, error)

	// FinishScanCycle records the end of an operation.
	FinishScanCycle(id int64, status string, scanned, ingested, failed int64) error

	// ListScanCycles returns the most recent cycles, newest first.
	ListScanCycles(limit int) ([]*ScanCycle, error)

	// Close closes the store.
	Close() error
}
