package dedup

import "time"

// ScannedFile is a file descriptor produced by the directory scanner.
// It lives only for the duration of a scan cycle and is never persisted.
type ScannedFile struct {
	FullPath   string
	FileName   string
	Extension  string // lowercase, including the leading dot
	SizeBytes  int64
	ModifiedAt time.Time // UTC
}

// ScanDirectory is a registered scan root.
type ScanDirectory struct {
	ID        string // UUID
	Path      string // absolute path
	Recursive bool
	Enabled   bool
	CreatedAt time.Time
}

// IndexedFile is the persistent record of a file in the index.
// FilePath is the unique key. IndexedAt advances only when ModifiedAt
// strictly exceeds the previously stored IndexedAt.
type IndexedFile struct {
	ID         string // UUID
	FilePath   string // absolute path, unique
	FileName   string
	Extension  string
	ContentHash string // SHA-256, lowercase hex
	SizeBytes  int64
	CreatedAt  time.Time
	ModifiedAt time.Time
	IndexedAt  time.Time

	// Optional capture metadata.
	TakenAt     *time.Time
	CameraModel string
	Width       int
	Height      int
	Thumbnail   []byte

	DuplicateGroupID string // weak reference; empty when ungrouped
	IsDuplicate      bool
	IsHidden         bool
	HiddenReason     string
	LastError        string
	RetryCount       int
}

// HasCaptureMetadata reports whether any capture metadata was extracted.
func (f *IndexedFile) HasCaptureMetadata() bool {
	return f.TakenAt != nil || f.CameraModel != "" || (f.Width > 0 && f.Height > 0)
}

// GroupStatus is the lifecycle state of a duplicate group.
// Transitions are validated by the state machine in status.go.
type GroupStatus string

const (
	StatusPending        GroupStatus = "pending"
	StatusAutoSelected   GroupStatus = "auto_selected"
	StatusConflict       GroupStatus = "conflict"
	StatusValidated      GroupStatus = "validated"
	StatusCleaning       GroupStatus = "cleaning"
	StatusCleaned        GroupStatus = "cleaned"
	StatusCleaningFailed GroupStatus = "cleaning_failed"
)

// DuplicateGroup is the set of indexed files sharing one content hash.
// The group owns only aggregates; membership is a back-reference from
// IndexedFile.DuplicateGroupID.
type DuplicateGroup struct {
	ID            string // UUID
	ContentHash   string // natural key, unique
	FileCount     int
	TotalSizeBytes int64
	Status        GroupStatus
	KeptFileID    string // empty until an original is chosen
	CreatedAt     time.Time
	ValidatedAt   *time.Time
	ResolvedAt    *time.Time
}

// Category partitions the archive namespace and selects the retention
// window for archived copies.
type Category string

const (
	CategoryHashDuplicate Category = "hash_duplicate"
	CategoryNearDuplicate Category = "near_duplicate"
	CategoryManual        Category = "manual"
)

// Categories lists all archive categories in sweep order.
var Categories = []Category{CategoryHashDuplicate, CategoryNearDuplicate, CategoryManual}

// JobStatus is the lifecycle state of a cleanup job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// CleanupJob is one archive-then-delete unit of work created from a
// validated duplicate group.
type CleanupJob struct {
	ID         string // UUID
	GroupID    string
	Category   Category
	Status     JobStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// JobFileStatus is the per-file state within a cleanup job.
type JobFileStatus string

const (
	JobFilePending JobFileStatus = "pending"
	JobFileSent    JobFileStatus = "sent"
	JobFileDeleted JobFileStatus = "deleted"
	JobFileFailed  JobFileStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobFileStatus) Terminal() bool {
	return s == JobFileDeleted || s == JobFileFailed
}

// CleanupJobFile is one ordered delete entry within a cleanup job.
// FilePath and FileHash are snapshotted at job creation so the worker
// can verify the file has not drifted since review.
type CleanupJobFile struct {
	JobID     string
	FileID    string
	FilePath  string
	FileHash  string
	SizeBytes int64
	Position  int
	Status    JobFileStatus
	ErrorKind string // one of the Outcome* constants when Status == failed
}

// ScanCycle records one run of a coordinator operation for the history
// command.
type ScanCycle struct {
	ID         int64
	Operation  string
	Status     string // "running", "success", "failed"
	StartedAt  time.Time
	FinishedAt *time.Time
	Scanned    int64
	Ingested   int64
	Failed     int64
}
