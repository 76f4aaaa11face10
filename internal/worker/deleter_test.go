package worker_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"dedup-go/internal/archive"
	"dedup-go/internal/dedup"
	"dedup-go/internal/encryption"
	"dedup-go/internal/protocol"
	"dedup-go/internal/testutil"
	"dedup-go/internal/worker"
)

func newDeleter(t *testing.T, enc dedup.Encryptor) (*worker.Deleter, *archive.MemoryArchive, *worker.TxStore) {
	t.Helper()

	arch := archive.NewMemoryArchive()
	txs, err := worker.NewTxStore(t.TempDir())
	if err != nil {
		t.Fatalf("opening tx store: %v", err)
	}
	t.Cleanup(func() { txs.Close() })

	d := worker.NewDeleter(arch, enc, txs, testutil.FixedClock(), testutil.NewStubIDGenerator(), dedup.NewNopLogger())
	return d, arch, txs
}

func deleteCommand(path string, content []byte) protocol.DeleteFile {
	return protocol.DeleteFile{
		JobID:       "job-1",
		FileID:      "file-1",
		FilePath:    path,
		ContentHash: testutil.SHA256Hex(content),
		SizeBytes:   int64(len(content)),
		Category:    "hash_duplicate",
	}
}

func TestDeleter_ArchivesThenDeletes(t *testing.T) {
	d, arch, txs := newDeleter(t, nil)
	content := []byte("duplicate pixels")
	path := testutil.WriteFile(t, t.TempDir(), "dup.jpg", content)

	report := d.Execute(context.Background(), deleteCommand(path, content))

	if report.Status != string(dedup.JobFileDeleted) {
		t.Fatalf("status = %s (%s: %s)", report.Status, report.ErrorKind, report.Error)
	}
	// FixedClock is 2024-01-15, so the key lands in that month's folder.
	if want := "hash_duplicate/2024-01/dup.jpg"; report.ArchiveKey != want {
		t.Errorf("ArchiveKey = %s, want %s", report.ArchiveKey, want)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original still on disk after successful delete")
	}

	var buf bytes.Buffer
	if err := arch.Get(context.Background(), report.ArchiveKey, &buf); err != nil {
		t.Fatalf("archived copy missing: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Error("archived copy differs from the original")
	}

	list, err := txs.List()
	if err != nil || len(list) != 1 {
		t.Fatalf("transactions = %d (%v), want 1", len(list), err)
	}
	tx := list[0]
	if tx.OriginalPath != path || tx.ArchiveKey != report.ArchiveKey || tx.Encrypted {
		t.Errorf("transaction = %+v", tx)
	}
	if tx.ContentHash != testutil.SHA256Hex(content) {
		t.Errorf("transaction hash = %s", tx.ContentHash)
	}
}

func TestDeleter_MissingFile(t *testing.T) {
	d, arch, _ := newDeleter(t, nil)
	cmd := deleteCommand(filepath.Join(t.TempDir(), "gone.jpg"), []byte("x"))

	report := d.Execute(context.Background(), cmd)

	if report.Status != string(dedup.JobFileFailed) || report.ErrorKind != dedup.OutcomeNotFound {
		t.Errorf("report = %s/%s, want failed/not_found", report.Status, report.ErrorKind)
	}
	if arch.Len() != 0 {
		t.Error("nothing should be archived for a missing file")
	}
}

func TestDeleter_RefusesChangedFile(t *testing.T) {
	d, arch, txs := newDeleter(t, nil)
	path := testutil.WriteFile(t, t.TempDir(), "dup.jpg", []byte("edited since review"))

	// The command carries the hash recorded at review time.
	cmd := deleteCommand(path, []byte("reviewed content"))
	report := d.Execute(context.Background(), cmd)

	if report.Status != string(dedup.JobFileFailed) || report.ErrorKind != dedup.OutcomeFileChanged {
		t.Errorf("report = %s/%s, want failed/file_changed", report.Status, report.ErrorKind)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("changed file must survive untouched")
	}
	if arch.Len() != 0 {
		t.Error("changed file must not be archived")
	}
	list, _ := txs.List()
	if len(list) != 0 {
		t.Error("no transaction for a refused delete")
	}
}

func TestDeleter_EncryptedUpload(t *testing.T) {
	enc := encryption.NewTestEncryptor()
	d, arch, txs := newDeleter(t, enc)
	content := []byte("secret pixels")
	path := testutil.WriteFile(t, t.TempDir(), "dup.jpg", content)

	report := d.Execute(context.Background(), deleteCommand(path, content))
	if report.Status != string(dedup.JobFileDeleted) {
		t.Fatalf("status = %s (%s)", report.Status, report.Error)
	}

	var buf bytes.Buffer
	if err := arch.Get(context.Background(), report.ArchiveKey, &buf); err != nil {
		t.Fatalf("archived copy missing: %v", err)
	}
	if bytes.Equal(buf.Bytes(), content) {
		t.Error("archived copy stored as plaintext")
	}

	dctx, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	var plain bytes.Buffer
	if err := dctx.Decrypt(bytes.NewReader(buf.Bytes()), &plain); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(plain.Bytes(), content) {
		t.Error("decrypted copy differs from the original")
	}

	list, _ := txs.List()
	if len(list) != 1 || !list[0].Encrypted {
		t.Fatalf("transaction should record the encryption flag: %+v", list)
	}
}
