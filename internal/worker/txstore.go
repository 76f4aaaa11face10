// Package worker is the remote side of the cleanup protocol: it
// executes archive-then-delete commands from the coordinator, records
// delete transactions locally, and can roll an archived delete back.
package worker

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DeleteTransaction is the worker-local record of one archive-then-
// delete. It is the sole source of truth for rollback: the coordinator
// never sees these rows.
type DeleteTransaction struct {
	ID           string
	JobID        string
	FileID       string
	OriginalPath string
	ArchiveKey   string
	ContentHash  string
	SizeBytes    int64
	Category     string
	Encrypted    bool
	DeletedAt    time.Time
	RolledBack   bool
	RolledBackAt *time.Time
}

// TxStore persists delete transactions in a worker-local sqlite file.
type TxStore struct {
	db *sql.DB
}

// NewTxStore opens (creating if needed) the transaction database at
// dataDir/transactions.db and applies pending migrations.
func NewTxStore(dataDir string) (*TxStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "transactions.db")

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening transaction db: %w", err)
	}
	// sqlite allows one writer; a second connection would only block.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &TxStore{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Record inserts a completed delete transaction.
func (s *TxStore) Record(tx *DeleteTransaction) error {
	_, err := s.db.Exec(`
		INSERT INTO delete_transactions
			(id, job_id, file_id, original_path, archive_key, content_hash,
			 size_bytes, category, encrypted, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.JobID, tx.FileID, tx.OriginalPath, tx.ArchiveKey,
		tx.ContentHash, tx.SizeBytes, tx.Category, tx.Encrypted,
		tx.DeletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording transaction: %w", err)
	}
	return nil
}

// Find returns the transaction with the given ID, or nil when unknown.
func (s *TxStore) Find(id string) (*DeleteTransaction, error) {
	row := s.db.QueryRow(`
		SELECT id, job_id, file_id, original_path, archive_key, content_hash,
		       size_bytes, category, encrypted, deleted_at, rolled_back, rolled_back_at
		FROM delete_transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tx, err
}

// List returns all transactions, newest first.
func (s *TxStore) List() ([]*DeleteTransaction, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, file_id, original_path, archive_key, content_hash,
		       size_bytes, category, encrypted, deleted_at, rolled_back, rolled_back_at
		FROM delete_transactions ORDER BY deleted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []*DeleteTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// MarkRolledBack stamps a transaction as rolled back.
func (s *TxStore) MarkRolledBack(id string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE delete_transactions SET rolled_back = 1, rolled_back_at = ?
		WHERE id = ? AND rolled_back = 0`,
		at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("marking rolled back: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("transaction %s not found or already rolled back", id)
	}
	return nil
}

// Close closes the underlying database.
func (s *TxStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*DeleteTransaction, error) {
	var tx DeleteTransaction
	var deletedAt string
	var rolledBackAt sql.NullString
	err := row.Scan(&tx.ID, &tx.JobID, &tx.FileID, &tx.OriginalPath,
		&tx.ArchiveKey, &tx.ContentHash, &tx.SizeBytes, &tx.Category,
		&tx.Encrypted, &deletedAt, &tx.RolledBack, &rolledBackAt)
	if err != nil {
		return nil, err
	}
	tx.DeletedAt, err = time.Parse(time.RFC3339Nano, deletedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing deleted_at: %w", err)
	}
	if rolledBackAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, rolledBackAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing rolled_back_at: %w", err)
		}
		tx.RolledBackAt = &t
	}
	return &tx, nil
}
