package dedup

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ObjectInfo describes one archived object.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
}

// Archive provides an interface for archive storage backends. All
// operations stream through io.Reader/io.Writer so large originals are
// never buffered in memory.
type Archive interface {
	// Put stores an object under key. size is the number of bytes that
	// will be read from r; a negative size means unknown (backends skip
	// the length check). Storing the same key twice overwrites.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get retrieves an object by key and writes it to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete permanently removes an object. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// ValidateSetup verifies the archive is accessible and configured.
	ValidateSetup(ctx context.Context) error
}

// ArchiveKey builds the canonical object key for an archived original:
// {category}/{yyyy-MM}/{originalFileName}. The sweeper's date parsing
// depends on this exact layout.
func ArchiveKey(category Category, deletedAt time.Time, fileName string) string {
	return path.Join(string(category), deletedAt.UTC().Format("2006-01"), fileName)
}

// ParseArchiveKeyMonth extracts the yyyy-MM segment from an archive
// object key.
func ParseArchiveKeyMonth(key string) (time.Time, error) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 3 {
		return time.Time{}, fmt.Errorf("archive key %q has no month segment", key)
	}
	t, err := time.Parse("2006-01", parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("archive key %q: parsing month: %w", key, err)
	}
	return t, nil
}
