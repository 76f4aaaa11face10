package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
)

// hashChunkSize is the fixed read size for streaming hashing. Memory
// use per worker is O(hashChunkSize) regardless of file size.
const hashChunkSize = 64 * 1024

// HashFailureKind distinguishes non-fatal hashing failures.
type HashFailureKind string

const (
	HashOK               HashFailureKind = ""
	HashNotFound         HashFailureKind = "not_found"
	HashPermissionDenied HashFailureKind = "permission_denied"
	HashIOError          HashFailureKind = "io_error"
)

// HashResult is the outcome of hashing one file. A failed file carries
// a non-empty FailureKind and Err; the batch continues regardless.
type HashResult struct {
	Path           string
	Hash           string // SHA-256, lowercase hex
	BytesProcessed int64
	FailureKind    HashFailureKind
	Err            error
}

// HashFile computes the SHA-256 content hash of the file at path,
// streaming the content in fixed chunks through an incremental digest.
func HashFile(ctx context.Context, path string) HashResult {
	f, err := os.Open(path)
	if err != nil {
		return HashResult{Path: path, FailureKind: classifyHashErr(err), Err: err}
	}
	defer f.Close()

	digest := sha256.New()
	buf := make([]byte, hashChunkSize)
	var total int64

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return HashResult{Path: path, FailureKind: HashIOError, Err: ctxErr}
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return HashResult{Path: path, FailureKind: classifyHashErr(rerr), Err: fmt.Errorf("reading %s: %w", path, rerr)}
		}
	}

	return HashResult{
		Path:           path,
		Hash:           hex.EncodeToString(digest.Sum(nil)),
		BytesProcessed: total,
	}
}

// HashBatch hashes paths under bounded parallelism and streams results
// as they complete. Completion order is not input order. Cancelling ctx
// stops workers promptly; the channel is always closed.
func HashBatch(ctx context.Context, paths []string, maxParallel int) <-chan HashResult {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	out := make(chan HashResult, maxParallel)

	go func() {
		defer close(out)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallel)

		for _, p := range paths {
			p := p
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				res := HashFile(gctx, p)
				select {
				case out <- res:
				case <-gctx.Done():
				}
				return nil
			})
		}
		g.Wait()
	}()

	return out
}

func classifyHashErr(err error) HashFailureKind {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return HashNotFound
	case errors.Is(err, os.ErrPermission):
		return HashPermissionDenied
	default:
		return HashIOError
	}
}
