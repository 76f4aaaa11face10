package dedup_test

import (
	"context"
	"path/filepath"
	"testing"

	"dedup-go/internal/dedup"
	"dedup-go/internal/testutil"
)

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("the same pixels, twice")
	path := testutil.WriteFile(t, dir, "a.jpg", content)

	res := dedup.HashFile(context.Background(), path)
	if res.FailureKind != dedup.HashOK {
		t.Fatalf("HashFile failed: %v (%s)", res.Err, res.FailureKind)
	}
	if want := testutil.SHA256Hex(content); res.Hash != want {
		t.Errorf("Hash = %s, want %s", res.Hash, want)
	}
	if res.BytesProcessed != int64(len(content)) {
		t.Errorf("BytesProcessed = %d, want %d", res.BytesProcessed, len(content))
	}
}

func TestHashFile_NotFound(t *testing.T) {
	res := dedup.HashFile(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	if res.FailureKind != dedup.HashNotFound {
		t.Errorf("FailureKind = %s, want %s", res.FailureKind, dedup.HashNotFound)
	}
	if res.Err == nil {
		t.Error("Err should be set on failure")
	}
}

func TestHashBatch(t *testing.T) {
	dir := t.TempDir()
	contents := map[string][]byte{
		"a.jpg": []byte("aaa"),
		"b.jpg": []byte("bbb"),
		"c.jpg": []byte("ccc"),
	}
	var paths []string
	for name, data := range contents {
		paths = append(paths, testutil.WriteFile(t, dir, name, data))
	}
	paths = append(paths, filepath.Join(dir, "missing.jpg"))

	got := make(map[string]dedup.HashResult)
	for res := range dedup.HashBatch(context.Background(), paths, 2) {
		got[res.Path] = res
	}

	if len(got) != len(paths) {
		t.Fatalf("received %d results, want %d", len(got), len(paths))
	}
	for name, data := range contents {
		res := got[filepath.Join(dir, name)]
		if res.FailureKind != dedup.HashOK {
			t.Errorf("%s failed: %v", name, res.Err)
			continue
		}
		if want := testutil.SHA256Hex(data); res.Hash != want {
			t.Errorf("%s hash = %s, want %s", name, res.Hash, want)
		}
	}
	if res := got[filepath.Join(dir, "missing.jpg")]; res.FailureKind != dedup.HashNotFound {
		t.Errorf("missing file kind = %s, want %s", res.FailureKind, dedup.HashNotFound)
	}
}
