package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dedup-go/internal/dedup"
	"dedup-go/internal/protocol"
)

// Deleter executes archive-then-delete commands. The original file is
// removed only after the archive upload is confirmed; a crash between
// the two leaves the original intact and the job file unsettled.
type Deleter struct {
	archive   dedup.Archive
	encryptor dedup.Encryptor // nil when archive encryption is disabled
	txs       *TxStore
	clock     dedup.Clock
	idgen     dedup.IDGenerator
	logger    dedup.Logger
}

// NewDeleter creates a Deleter. encryptor may be nil.
func NewDeleter(archive dedup.Archive, encryptor dedup.Encryptor, txs *TxStore, clock dedup.Clock, idgen dedup.IDGenerator, logger dedup.Logger) *Deleter {
	return &Deleter{
		archive:   archive,
		encryptor: encryptor,
		txs:       txs,
		clock:     clock,
		idgen:     idgen,
		logger:    logger,
	}
}

// Execute runs one delete command and always produces a report. Every
// failure is mapped to a distinct kind so the coordinator can tell a
// drifted file from a missing one.
func (d *Deleter) Execute(ctx context.Context, cmd protocol.DeleteFile) protocol.FileReport {
	report := protocol.FileReport{
		JobID:  cmd.JobID,
		FileID: cmd.FileID,
		Status: string(dedup.JobFileFailed),
	}

	fail := func(kind string, err error) protocol.FileReport {
		d.logger.Warn("delete refused", "path", cmd.FilePath, "kind", kind, "error", err)
		report.ErrorKind = kind
		report.Error = err.Error()
		return report
	}

	if _, err := os.Stat(cmd.FilePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fail(dedup.OutcomeNotFound, err)
		}
		if errors.Is(err, os.ErrPermission) {
			return fail(dedup.OutcomePermissionDenied, err)
		}
		return fail(dedup.OutcomePermissionDenied, err)
	}

	// Re-hash before touching anything. A hash mismatch means the file
	// changed since review and must not be deleted.
	hr := dedup.HashFile(ctx, cmd.FilePath)
	if hr.FailureKind != dedup.HashOK {
		switch hr.FailureKind {
		case dedup.HashNotFound:
			return fail(dedup.OutcomeNotFound, hr.Err)
		case dedup.HashPermissionDenied:
			return fail(dedup.OutcomePermissionDenied, hr.Err)
		default:
			return fail(dedup.OutcomePermissionDenied, hr.Err)
		}
	}
	if hr.Hash != cmd.ContentHash {
		return fail(dedup.OutcomeFileChanged,
			fmt.Errorf("content hash %s does not match recorded %s", hr.Hash, cmd.ContentHash))
	}

	deletedAt := d.clock.Now().UTC()
	key := dedup.ArchiveKey(dedup.Category(cmd.Category), deletedAt, filepath.Base(cmd.FilePath))

	size, encrypted, err := d.upload(ctx, cmd.FilePath, key)
	if err != nil {
		return fail(dedup.OutcomeArchiveFailed, err)
	}

	if err := os.Remove(cmd.FilePath); err != nil {
		// The archived copy stays; the original is still on disk.
		return fail(dedup.OutcomeRemoveFailed, err)
	}

	tx := &DeleteTransaction{
		ID:           d.idgen.New(),
		JobID:        cmd.JobID,
		FileID:       cmd.FileID,
		OriginalPath: cmd.FilePath,
		ArchiveKey:   key,
		ContentHash:  cmd.ContentHash,
		SizeBytes:    size,
		Category:     cmd.Category,
		Encrypted:    encrypted,
		DeletedAt:    deletedAt,
	}
	if err := d.txs.Record(tx); err != nil {
		// The delete already happened; losing the record only loses
		// rollback, so report success but complain loudly.
		d.logger.Error("failed to record delete transaction", "path", cmd.FilePath, "error", err)
	}

	d.logger.Info("file archived and deleted", "path", cmd.FilePath, "key", key, "tx", tx.ID)
	report.Status = string(dedup.JobFileDeleted)
	report.ArchiveKey = key
	return report
}

// upload streams the file into the archive, encrypting when an
// encryptor is configured. Returns the stored size and whether the
// object is encrypted.
func (d *Deleter) upload(ctx context.Context, path, key string) (int64, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, false, fmt.Errorf("statting file: %w", err)
	}

	if d.encryptor == nil {
		if err := d.archive.Put(ctx, key, f, info.Size()); err != nil {
			return 0, false, fmt.Errorf("uploading: %w", err)
		}
		return info.Size(), false, nil
	}

	// Encrypted size is unknown up front; stream through a pipe and
	// let the backend read to EOF.
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(d.encryptor.Encrypt(f, pw))
	}()
	if err := d.archive.Put(ctx, key, pr, -1); err != nil {
		return 0, false, fmt.Errorf("uploading encrypted: %w", err)
	}
	return info.Size(), true, nil
}
