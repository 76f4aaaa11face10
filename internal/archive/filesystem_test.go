package archive_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"dedup-go/internal/archive"
	"dedup-go/internal/dedup"
)

func newArchives(t *testing.T) map[string]dedup.Archive {
	t.Helper()

	fsArch, err := archive.NewFileSystemArchive(filepath.Join(t.TempDir(), "archive"))
	if err != nil {
		t.Fatalf("creating filesystem archive: %v", err)
	}
	return map[string]dedup.Archive{
		"filesystem": fsArch,
		"memory":     archive.NewMemoryArchive(),
	}
}

func TestArchive_PutGetRoundTrip(t *testing.T) {
	for name, arch := range newArchives(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := []byte("original pixels")
			key := "hash_duplicate/2024-01/a.jpg"

			if err := arch.Put(ctx, key, bytes.NewReader(content), int64(len(content))); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			var buf bytes.Buffer
			if err := arch.Get(ctx, key, &buf); err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !bytes.Equal(buf.Bytes(), content) {
				t.Errorf("round trip mismatch: got %q", buf.Bytes())
			}
		})
	}
}

func TestArchive_PutOverwrites(t *testing.T) {
	for name, arch := range newArchives(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "manual/2024-01/a.jpg"

			if err := arch.Put(ctx, key, strings.NewReader("v1"), 2); err != nil {
				t.Fatalf("first Put: %v", err)
			}
			if err := arch.Put(ctx, key, strings.NewReader("v2!"), 3); err != nil {
				t.Fatalf("second Put: %v", err)
			}

			var buf bytes.Buffer
			if err := arch.Get(ctx, key, &buf); err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if buf.String() != "v2!" {
				t.Errorf("got %q, want the overwrite", buf.String())
			}
		})
	}
}

func TestArchive_PutSizeMismatch(t *testing.T) {
	for name, arch := range newArchives(t) {
		t.Run(name, func(t *testing.T) {
			err := arch.Put(context.Background(), "k", strings.NewReader("abc"), 99)
			if err == nil {
				t.Fatal("short read should fail the upload")
			}
		})
	}
}

func TestArchive_PutUnknownSize(t *testing.T) {
	for name, arch := range newArchives(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := arch.Put(ctx, "k", strings.NewReader("streamed"), -1); err != nil {
				t.Fatalf("negative size must skip the length check: %v", err)
			}
			var buf bytes.Buffer
			if err := arch.Get(ctx, "k", &buf); err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if buf.String() != "streamed" {
				t.Errorf("got %q", buf.String())
			}
		})
	}
}

func TestArchive_ListByPrefix(t *testing.T) {
	for name, arch := range newArchives(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed := map[string]string{
				"hash_duplicate/2024-01/a.jpg": "aaa",
				"hash_duplicate/2024-02/b.jpg": "bb",
				"manual/2024-01/c.jpg":         "c",
			}
			for key, data := range seed {
				if err := arch.Put(ctx, key, strings.NewReader(data), int64(len(data))); err != nil {
					t.Fatalf("seeding %s: %v", key, err)
				}
			}

			objects, err := arch.List(ctx, "hash_duplicate/")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(objects) != 2 {
				t.Fatalf("listed %d objects, want 2", len(objects))
			}
			for _, o := range objects {
				if !strings.HasPrefix(o.Key, "hash_duplicate/") {
					t.Errorf("foreign key in listing: %s", o.Key)
				}
				if o.SizeBytes != int64(len(seed[o.Key])) {
					t.Errorf("%s size = %d, want %d", o.Key, o.SizeBytes, len(seed[o.Key]))
				}
			}
		})
	}
}

func TestArchive_DeleteMissingKeyIsNotAnError(t *testing.T) {
	for name, arch := range newArchives(t) {
		t.Run(name, func(t *testing.T) {
			if err := arch.Delete(context.Background(), "never/stored.jpg"); err != nil {
				t.Errorf("Delete of missing key: %v", err)
			}
		})
	}
}

func TestArchive_Delete(t *testing.T) {
	for name, arch := range newArchives(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := arch.Put(ctx, "k", strings.NewReader("x"), 1); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := arch.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			var buf bytes.Buffer
			if err := arch.Get(ctx, "k", &buf); err == nil {
				t.Error("Get after Delete should fail")
			}
		})
	}
}

func TestFileSystemArchive_ValidateSetup(t *testing.T) {
	arch, err := archive.NewFileSystemArchive(filepath.Join(t.TempDir(), "archive"))
	if err != nil {
		t.Fatalf("creating archive: %v", err)
	}
	if err := arch.ValidateSetup(context.Background()); err != nil {
		t.Errorf("ValidateSetup on a fresh root: %v", err)
	}
}
