package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dedup-go/internal/dedup"
)

// Rollbacker restores archived originals from recorded delete
// transactions.
type Rollbacker struct {
	archive dedup.Archive
	txs     *TxStore
	clock   dedup.Clock
	logger  dedup.Logger
}

// NewRollbacker creates a Rollbacker.
func NewRollbacker(archive dedup.Archive, txs *TxStore, clock dedup.Clock, logger dedup.Logger) *Rollbacker {
	return &Rollbacker{archive: archive, txs: txs, clock: clock, logger: logger}
}

// RollbackTransaction downloads the archived object, decrypts it when
// the transaction was stored encrypted, restores it to the original
// path, verifies the content hash, and marks the transaction rolled
// back. An existing file at the original path is never overwritten.
// decryption is required for encrypted transactions and ignored
// otherwise.
func (r *Rollbacker) RollbackTransaction(ctx context.Context, txID string, decryption dedup.DecryptionContext) error {
	tx, err := r.txs.Find(txID)
	if err != nil {
		return fmt.Errorf("loading transaction: %w", err)
	}
	if tx == nil {
		return fmt.Errorf("transaction not found: %s", txID)
	}
	if tx.RolledBack {
		return fmt.Errorf("transaction %s already rolled back", txID)
	}
	if tx.Encrypted && decryption == nil {
		return fmt.Errorf("transaction %s is encrypted, unlock required", txID)
	}

	if _, err := os.Stat(tx.OriginalPath); err == nil {
		return fmt.Errorf("refusing to overwrite existing file: %s", tx.OriginalPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking original path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(tx.OriginalPath), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	// Restore through a temp file so a failed download or hash check
	// never leaves a partial file at the original path.
	tmp, err := os.CreateTemp(filepath.Dir(tx.OriginalPath), ".restore-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	restored := false
	defer func() {
		if !restored {
			os.Remove(tmpPath)
		}
	}()

	err = r.download(ctx, tx, decryption, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("restoring %s: %w", tx.ArchiveKey, err)
	}

	hr := dedup.HashFile(ctx, tmpPath)
	if hr.FailureKind != dedup.HashOK {
		return fmt.Errorf("hashing restored file: %w", hr.Err)
	}
	if hr.Hash != tx.ContentHash {
		return fmt.Errorf("restored content hash %s does not match recorded %s", hr.Hash, tx.ContentHash)
	}

	if err := os.Rename(tmpPath, tx.OriginalPath); err != nil {
		return fmt.Errorf("moving restored file into place: %w", err)
	}
	restored = true

	if err := r.txs.MarkRolledBack(tx.ID, r.clock.Now().UTC()); err != nil {
		return err
	}
	r.logger.Info("transaction rolled back", "tx", tx.ID, "path", tx.OriginalPath)
	return nil
}

func (r *Rollbacker) download(ctx context.Context, tx *DeleteTransaction, decryption dedup.DecryptionContext, dst io.Writer) error {
	if !tx.Encrypted {
		return r.archive.Get(ctx, tx.ArchiveKey, dst)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(r.archive.Get(ctx, tx.ArchiveKey, pw))
	}()
	if err := decryption.Decrypt(pr, dst); err != nil {
		pr.CloseWithError(err)
		return err
	}
	return nil
}
