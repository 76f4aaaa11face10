// Package database implements the coordinator's IndexStore on sqlite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dedup-go/internal/database/migrations"
	"dedup-go/internal/dedup"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// reindexChunkSize bounds the IN clause of the staleness query.
const reindexChunkSize = 100

// SQLiteStore implements dedup.IndexStore using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	clock dedup.Clock
	idgen dedup.IDGenerator
	path  string
}

var _ dedup.IndexStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path (":memory:" for tests),
// applies pending migrations, and returns a ready store.
func NewSQLiteStore(path string, clock dedup.Clock, idgen dedup.IDGenerator) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, clock: clock, idgen: idgen, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection. Exported
// for tools and tests that need the same PRAGMA setup.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Foreign keys are OFF by default in SQLite.
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	// A single connection sidesteps sqlite writer contention and keeps
	// :memory: databases coherent across goroutines.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scan directory operations

func (s *SQLiteStore) CreateScanDirectory(path string, recursive bool) (*dedup.ScanDirectory, error) {
	existing, err := s.findScanDirectoryByPath(path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	dir := &dedup.ScanDirectory{
		ID:        s.idgen.New(),
		Path:      path,
		Recursive: recursive,
		Enabled:   true,
		CreatedAt: s.clock.Now().UTC(),
	}
	_, err = s.db.Exec(`
		INSERT INTO scan_directories (id, path, recursive, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		dir.ID, dir.Path, dir.Recursive, dir.Enabled, fmtTime(dir.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("creating scan directory: %w", err)
	}
	return dir, nil
}

func (s *SQLiteStore) findScanDirectoryByPath(path string) (*dedup.ScanDirectory, error) {
	row := s.db.QueryRow(`
		SELECT id, path, recursive, enabled, created_at
		FROM scan_directories WHERE path = ?`, path)
	dir, err := scanScanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding scan directory: %w", err)
	}
	return dir, nil
}

func (s *SQLiteStore) ListScanDirectories(enabledOnly bool) ([]*dedup.ScanDirectory, error) {
	query := `SELECT id, path, recursive, enabled, created_at FROM scan_directories`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY path`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("listing scan directories: %w", err)
	}
	defer rows.Close()

	var dirs []*dedup.ScanDirectory
	for rows.Next() {
		dir, err := scanScanDirectory(rows)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	return dirs, rows.Err()
}

func (s *SQLiteStore) SetScanDirectoryEnabled(id string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE scan_directories SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("updating scan directory: %w", err)
	}
	return requireRow(res, "scan directory", id)
}

// Indexed file operations

const indexedFileColumns = `
	id, file_path, file_name, extension, content_hash, size_bytes,
	created_at, modified_at, indexed_at, taken_at, camera_model,
	width, height, thumbnail, duplicate_group_id, is_duplicate,
	is_hidden, hidden_reason, last_error, retry_count`

func (s *SQLiteStore) FindFileByPath(path string) (*dedup.IndexedFile, error) {
	row := s.db.QueryRow(`SELECT `+indexedFileColumns+` FROM indexed_files WHERE file_path = ?`, path)
	return oneFile(row)
}

func (s *SQLiteStore) FindFileByID(id string) (*dedup.IndexedFile, error) {
	row := s.db.QueryRow(`SELECT `+indexedFileColumns+` FROM indexed_files WHERE id = ?`, id)
	return oneFile(row)
}

// indexedStamp is what staleness is decided against: when the row was
// written, and whether it represents a failure rather than a completed
// index entry.
type indexedStamp struct {
	indexedAt time.Time
	failed    bool
}

func (s *SQLiteStore) FilterNeedsReindex(ctx context.Context, stamps []dedup.PathStamp) ([]string, error) {
	known := make(map[string]indexedStamp, len(stamps))

	for start := 0; start < len(stamps); start += reindexChunkSize {
		end := min(start+reindexChunkSize, len(stamps))
		chunk := stamps[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, st := range chunk {
			args[i] = st.Path
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT file_path, indexed_at, content_hash, last_error
			FROM indexed_files WHERE file_path IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("querying indexed paths: %w", err)
		}
		for rows.Next() {
			var p, indexedAt, contentHash, lastError string
			if err := rows.Scan(&p, &indexedAt, &contentHash, &lastError); err != nil {
				rows.Close()
				return nil, err
			}
			t, err := parseTime(indexedAt)
			if err != nil {
				rows.Close()
				return nil, err
			}
			known[p] = indexedStamp{
				indexedAt: t,
				failed:    contentHash == "" || lastError != "",
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	var stale []string
	for _, st := range stamps {
		rec, ok := known[st.Path]
		// Strictly greater: equal timestamps mean already current.
		// Failure rows stay stale regardless of mtime so the next cycle
		// retries them; their indexed_at records the failure, not a
		// completed index entry.
		if !ok || rec.failed || st.ModifiedAt.After(rec.indexedAt) {
			stale = append(stale, st.Path)
		}
	}
	return stale, nil
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, entries []dedup.IngestEntry) (*dedup.BatchResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	result := &dedup.BatchResult{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.FilePath == "" || e.ContentHash == "" {
			result.Failed++
			result.Errors = append(result.Errors, dedup.IngestError{
				FilePath: e.FilePath, Message: "missing path or content hash",
			})
			continue
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO indexed_files
				(id, file_path, file_name, extension, content_hash, size_bytes,
				 created_at, modified_at, indexed_at, taken_at, camera_model,
				 width, height, thumbnail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (file_path) DO UPDATE SET
				file_name = excluded.file_name,
				extension = excluded.extension,
				content_hash = excluded.content_hash,
				size_bytes = excluded.size_bytes,
				modified_at = excluded.modified_at,
				indexed_at = excluded.indexed_at,
				taken_at = excluded.taken_at,
				camera_model = excluded.camera_model,
				width = excluded.width,
				height = excluded.height,
				thumbnail = excluded.thumbnail,
				duplicate_group_id = CASE
					WHEN content_hash = excluded.content_hash
					THEN duplicate_group_id ELSE '' END,
				is_duplicate = CASE
					WHEN content_hash = excluded.content_hash
					THEN is_duplicate ELSE 0 END,
				last_error = '',
				retry_count = 0`,
			s.idgen.New(), e.FilePath, e.FileName, e.Extension, e.ContentHash,
			e.SizeBytes, fmtTime(e.CreatedAt), fmtTime(e.ModifiedAt),
			fmtTime(e.CreatedAt), fmtNullTime(e.TakenAt), e.CameraModel,
			e.Width, e.Height, e.Thumbnail)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, dedup.IngestError{
				FilePath: e.FilePath, Message: err.Error(),
			})
			continue
		}
		result.Succeeded++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing batch: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) MarkFileFailed(path string, reason string) error {
	res, err := s.db.Exec(`
		UPDATE indexed_files SET last_error = ?, retry_count = retry_count + 1
		WHERE file_path = ?`, reason, path)
	if err != nil {
		return fmt.Errorf("marking file failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Unknown path: create a stub so the failure is visible later.
	now := fmtTime(s.clock.Now().UTC())
	_, err = s.db.Exec(`
		INSERT INTO indexed_files
			(id, file_path, file_name, extension, created_at, modified_at,
			 indexed_at, last_error, retry_count)
		VALUES (?, ?, '', '', ?, ?, ?, ?, 1)`,
		s.idgen.New(), path, now, now, now, reason)
	if err != nil {
		return fmt.Errorf("creating failure stub: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetFileHidden(id string, hidden bool, reason string) error {
	if !hidden {
		reason = ""
	}
	res, err := s.db.Exec(`
		UPDATE indexed_files SET is_hidden = ?, hidden_reason = ? WHERE id = ?`,
		hidden, reason, id)
	if err != nil {
		return fmt.Errorf("updating hidden flag: %w", err)
	}
	return requireRow(res, "indexed file", id)
}

func (s *SQLiteStore) SetFileDuplicate(id string, isDuplicate bool) error {
	res, err := s.db.Exec(`UPDATE indexed_files SET is_duplicate = ? WHERE id = ?`, isDuplicate, id)
	if err != nil {
		return fmt.Errorf("updating duplicate flag: %w", err)
	}
	return requireRow(res, "indexed file", id)
}

func (s *SQLiteStore) AssignFileToGroup(fileID, groupID string, isDuplicate bool) error {
	res, err := s.db.Exec(`
		UPDATE indexed_files SET duplicate_group_id = ?, is_duplicate = ? WHERE id = ?`,
		groupID, isDuplicate, fileID)
	if err != nil {
		return fmt.Errorf("assigning file to group: %w", err)
	}
	return requireRow(res, "indexed file", fileID)
}

func (s *SQLiteStore) FindDuplicateHashes(ctx context.Context) ([]dedup.HashGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, COUNT(*) AS n
		FROM indexed_files
		WHERE content_hash != ''
		GROUP BY content_hash HAVING n >= 2
		ORDER BY content_hash`)
	if err != nil {
		return nil, fmt.Errorf("querying duplicate hashes: %w", err)
	}
	defer rows.Close()

	var groups []dedup.HashGroup
	for rows.Next() {
		var g dedup.HashGroup
		if err := rows.Scan(&g.ContentHash, &g.FileCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *SQLiteStore) FindFilesByHash(hash string) ([]*dedup.IndexedFile, error) {
	return s.queryFiles(`SELECT `+indexedFileColumns+`
		FROM indexed_files WHERE content_hash = ?
		ORDER BY indexed_at, file_path`, hash)
}

func (s *SQLiteStore) FindFilesByGroup(groupID string) ([]*dedup.IndexedFile, error) {
	return s.queryFiles(`SELECT `+indexedFileColumns+`
		FROM indexed_files WHERE duplicate_group_id = ?
		ORDER BY indexed_at, file_path`, groupID)
}

func (s *SQLiteStore) queryFiles(query string, args ...any) ([]*dedup.IndexedFile, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var files []*dedup.IndexedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Duplicate group operations

const groupColumns = `
	id, content_hash, file_count, total_size_bytes, status, kept_file_id,
	created_at, validated_at, resolved_at`

func (s *SQLiteStore) FindGroupByHash(hash string) (*dedup.DuplicateGroup, error) {
	row := s.db.QueryRow(`SELECT `+groupColumns+` FROM duplicate_groups WHERE content_hash = ?`, hash)
	return oneGroup(row)
}

func (s *SQLiteStore) FindGroupByID(id string) (*dedup.DuplicateGroup, error) {
	row := s.db.QueryRow(`SELECT `+groupColumns+` FROM duplicate_groups WHERE id = ?`, id)
	return oneGroup(row)
}

func (s *SQLiteStore) CreateGroup(g *dedup.DuplicateGroup) error {
	_, err := s.db.Exec(`
		INSERT INTO duplicate_groups
			(id, content_hash, file_count, total_size_bytes, status,
			 kept_file_id, created_at, validated_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.ContentHash, g.FileCount, g.TotalSizeBytes, string(g.Status),
		g.KeptFileID, fmtTime(g.CreatedAt), fmtNullTime(g.ValidatedAt),
		fmtNullTime(g.ResolvedAt))
	if err != nil {
		return fmt.Errorf("creating group: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateGroup(g *dedup.DuplicateGroup) error {
	res, err := s.db.Exec(`
		UPDATE duplicate_groups SET
			file_count = ?, total_size_bytes = ?, status = ?,
			kept_file_id = ?, validated_at = ?, resolved_at = ?
		WHERE id = ?`,
		g.FileCount, g.TotalSizeBytes, string(g.Status), g.KeptFileID,
		fmtNullTime(g.ValidatedAt), fmtNullTime(g.ResolvedAt), g.ID)
	if err != nil {
		return fmt.Errorf("updating group: %w", err)
	}
	return requireRow(res, "duplicate group", g.ID)
}

func (s *SQLiteStore) ListGroupsByStatus(statuses ...dedup.GroupStatus) ([]*dedup.DuplicateGroup, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.Query(`SELECT `+groupColumns+`
		FROM duplicate_groups WHERE status IN (`+placeholders+`)
		ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var groups []*dedup.DuplicateGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Cleanup job operations

func (s *SQLiteStore) CreateCleanupJob(job *dedup.CleanupJob, files []*dedup.CleanupJobFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO cleanup_jobs (id, group_id, category, status, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.GroupID, string(job.Category), string(job.Status),
		fmtTime(job.CreatedAt), fmtNullTime(job.StartedAt), fmtNullTime(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	for _, f := range files {
		_, err = tx.Exec(`
			INSERT INTO cleanup_job_files
				(job_id, file_id, file_path, file_hash, size_bytes, position, status, error_kind)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.JobID, f.FileID, f.FilePath, f.FileHash, f.SizeBytes,
			f.Position, string(f.Status), f.ErrorKind)
		if err != nil {
			return fmt.Errorf("creating job file: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) FindCleanupJob(id string) (*dedup.CleanupJob, error) {
	row := s.db.QueryRow(`
		SELECT id, group_id, category, status, created_at, started_at, finished_at
		FROM cleanup_jobs WHERE id = ?`, id)

	var job dedup.CleanupJob
	var category, status, createdAt string
	var startedAt, finishedAt sql.NullString
	err := row.Scan(&job.ID, &job.GroupID, &category, &status, &createdAt, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding job: %w", err)
	}
	job.Category = dedup.Category(category)
	job.Status = dedup.JobStatus(status)
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *SQLiteStore) FindJobFiles(jobID string) ([]*dedup.CleanupJobFile, error) {
	rows, err := s.db.Query(`
		SELECT job_id, file_id, file_path, file_hash, size_bytes, position, status, error_kind
		FROM cleanup_job_files WHERE job_id = ? ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing job files: %w", err)
	}
	defer rows.Close()

	var files []*dedup.CleanupJobFile
	for rows.Next() {
		var f dedup.CleanupJobFile
		var status string
		if err := rows.Scan(&f.JobID, &f.FileID, &f.FilePath, &f.FileHash,
			&f.SizeBytes, &f.Position, &status, &f.ErrorKind); err != nil {
			return nil, err
		}
		f.Status = dedup.JobFileStatus(status)
		files = append(files, &f)
	}
	return files, rows.Err()
}

func (s *SQLiteStore) UpdateCleanupJob(job *dedup.CleanupJob) error {
	res, err := s.db.Exec(`
		UPDATE cleanup_jobs SET status = ?, started_at = ?, finished_at = ? WHERE id = ?`,
		string(job.Status), fmtNullTime(job.StartedAt), fmtNullTime(job.FinishedAt), job.ID)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return requireRow(res, "cleanup job", job.ID)
}

func (s *SQLiteStore) UpdateJobFileStatus(jobID, fileID string, status dedup.JobFileStatus, errorKind string) error {
	res, err := s.db.Exec(`
		UPDATE cleanup_job_files SET status = ?, error_kind = ?
		WHERE job_id = ? AND file_id = ?`,
		string(status), errorKind, jobID, fileID)
	if err != nil {
		return fmt.Errorf("updating job file: %w", err)
	}
	return requireRow(res, "cleanup job file", jobID+"/"+fileID)
}

// Scan cycle operations

func (s *SQLiteStore) CreateScanCycle(operation string) (*dedup.ScanCycle, error) {
	startedAt := s.clock.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO scan_cycles (operation, status, started_at) VALUES (?, 'running', ?)`,
		operation, fmtTime(startedAt))
	if err != nil {
		return nil, fmt.Errorf("creating scan cycle: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &dedup.ScanCycle{ID: id, Operation: operation, Status: "running", StartedAt: startedAt}, nil
}

func (s *SQLiteStore) FinishScanCycle(id int64, status string, scanned, ingested, failed int64) error {
	res, err := s.db.Exec(`
		UPDATE scan_cycles SET status = ?, finished_at = ?, scanned = ?, ingested = ?, failed = ?
		WHERE id = ?`,
		status, fmtTime(s.clock.Now().UTC()), scanned, ingested, failed, id)
	if err != nil {
		return fmt.Errorf("finishing scan cycle: %w", err)
	}
	return requireRow(res, "scan cycle", fmt.Sprint(id))
}

func (s *SQLiteStore) ListScanCycles(limit int) ([]*dedup.ScanCycle, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, operation, status, started_at, finished_at, scanned, ingested, failed
		FROM scan_cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*dedup.ScanCycle
	for rows.Next() {
		var c dedup.ScanCycle
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.Operation, &c.Status, &startedAt,
			&finishedAt, &c.Scanned, &c.Ingested, &c.Failed); err != nil {
			return nil, err
		}
		if c.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if c.FinishedAt, err = parseNullTime(finishedAt); err != nil {
			return nil, err
		}
		cycles = append(cycles, &c)
	}
	return cycles, rows.Err()
}

// Row scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func oneFile(row rowScanner) (*dedup.IndexedFile, error) {
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return f, nil
}

func scanFile(row rowScanner) (*dedup.IndexedFile, error) {
	var f dedup.IndexedFile
	var createdAt, modifiedAt, indexedAt string
	var takenAt sql.NullString
	err := row.Scan(&f.ID, &f.FilePath, &f.FileName, &f.Extension,
		&f.ContentHash, &f.SizeBytes, &createdAt, &modifiedAt, &indexedAt,
		&takenAt, &f.CameraModel, &f.Width, &f.Height, &f.Thumbnail,
		&f.DuplicateGroupID, &f.IsDuplicate, &f.IsHidden, &f.HiddenReason,
		&f.LastError, &f.RetryCount)
	if err != nil {
		return nil, err
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if f.ModifiedAt, err = parseTime(modifiedAt); err != nil {
		return nil, err
	}
	if f.IndexedAt, err = parseTime(indexedAt); err != nil {
		return nil, err
	}
	if f.TakenAt, err = parseNullTime(takenAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func oneGroup(row rowScanner) (*dedup.DuplicateGroup, error) {
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding group: %w", err)
	}
	return g, nil
}

func scanGroup(row rowScanner) (*dedup.DuplicateGroup, error) {
	var g dedup.DuplicateGroup
	var status, createdAt string
	var validatedAt, resolvedAt sql.NullString
	err := row.Scan(&g.ID, &g.ContentHash, &g.FileCount, &g.TotalSizeBytes,
		&status, &g.KeptFileID, &createdAt, &validatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	g.Status = dedup.GroupStatus(status)
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if g.ValidatedAt, err = parseNullTime(validatedAt); err != nil {
		return nil, err
	}
	if g.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanScanDirectory(row rowScanner) (*dedup.ScanDirectory, error) {
	var d dedup.ScanDirectory
	var createdAt string
	if err := row.Scan(&d.ID, &d.Path, &d.Recursive, &d.Enabled, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

// Time storage helpers. Timestamps are stored as fixed-width UTC text
// (zero-padded nanoseconds) so lexical ordering matches chronological
// ordering.

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
