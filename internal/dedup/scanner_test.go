package dedup_test

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"dedup-go/internal/dedup"
	"dedup-go/internal/testutil"
)

func scanPaths(t *testing.T, root string, policy dedup.ScanPolicy) ([]string, dedup.ScanStats) {
	t.Helper()

	var paths []string
	scanner := dedup.NewScanner(dedup.NewNopLogger())
	stats, err := scanner.Scan(context.Background(), root, policy, func(sf dedup.ScannedFile) error {
		paths = append(paths, sf.FullPath)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	sort.Strings(paths)
	return paths, stats
}

func TestScanner_ExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.jpg", []byte("a"))
	testutil.WriteFile(t, dir, "b.JPG", []byte("b")) // extension matching is lowercase
	testutil.WriteFile(t, dir, "c.txt", []byte("c"))

	paths, stats := scanPaths(t, dir, dedup.ScanPolicy{
		Extensions: []string{".jpg"},
		Recursive:  true,
	})

	if len(paths) != 2 {
		t.Fatalf("yielded %v, want a.jpg and b.JPG", paths)
	}
	if stats.Yielded != 2 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want Yielded 2 Skipped 1", stats)
	}
}

func TestScanner_SkipHidden(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.jpg", []byte("a"))
	testutil.WriteFile(t, dir, ".hidden.jpg", []byte("h"))
	testutil.WriteFile(t, dir, ".cache/b.jpg", []byte("b"))

	paths, _ := scanPaths(t, dir, dedup.ScanPolicy{SkipHidden: true, Recursive: true})

	want := []string{filepath.Join(dir, "a.jpg")}
	if len(paths) != 1 || paths[0] != want[0] {
		t.Errorf("yielded %v, want %v", paths, want)
	}
}

func TestScanner_MaxDepth(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "top.jpg", []byte("1"))
	testutil.WriteFile(t, dir, "l1/mid.jpg", []byte("2"))
	testutil.WriteFile(t, dir, "l1/l2/deep.jpg", []byte("3"))

	paths, _ := scanPaths(t, dir, dedup.ScanPolicy{MaxDepth: 2, Recursive: true})

	for _, p := range paths {
		if filepath.Base(p) == "deep.jpg" {
			t.Errorf("depth limit ignored, yielded %s", p)
		}
	}
	if len(paths) != 2 {
		t.Errorf("yielded %v, want top.jpg and mid.jpg", paths)
	}
}

func TestScanner_NonRecursive(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "top.jpg", []byte("1"))
	testutil.WriteFile(t, dir, "sub/nested.jpg", []byte("2"))

	paths, _ := scanPaths(t, dir, dedup.ScanPolicy{Recursive: false})

	if len(paths) != 1 || filepath.Base(paths[0]) != "top.jpg" {
		t.Errorf("yielded %v, want only top.jpg", paths)
	}
}

func TestScanner_InaccessibleRootIsNotAnError(t *testing.T) {
	scanner := dedup.NewScanner(dedup.NewNopLogger())
	stats, err := scanner.Scan(context.Background(), "/does/not/exist", dedup.ScanPolicy{Recursive: true},
		func(dedup.ScannedFile) error {
			t.Fatal("callback invoked for missing root")
			return nil
		})
	if err != nil {
		t.Fatalf("missing root must not fail the scan: %v", err)
	}
	if stats.Yielded != 0 {
		t.Errorf("Yielded = %d, want 0", stats.Yielded)
	}
}

func TestScanner_StopScan(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.jpg", []byte("a"))
	testutil.WriteFile(t, dir, "b.jpg", []byte("b"))

	seen := 0
	scanner := dedup.NewScanner(dedup.NewNopLogger())
	_, err := scanner.Scan(context.Background(), dir, dedup.ScanPolicy{Recursive: true},
		func(dedup.ScannedFile) error {
			seen++
			return dedup.ErrStopScan
		})
	if err != nil {
		t.Fatalf("ErrStopScan must end the scan cleanly: %v", err)
	}
	if seen != 1 {
		t.Errorf("callback ran %d times after stop, want 1", seen)
	}
}

func TestScanner_Cancellation(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.jpg", []byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := dedup.NewScanner(dedup.NewNopLogger())
	_, err := scanner.Scan(ctx, dir, dedup.ScanPolicy{Recursive: true},
		func(dedup.ScannedFile) error { return nil })
	if err == nil {
		t.Fatal("cancelled scan should return an error")
	}
}
