package dedup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ScanPolicy controls which files a directory scan yields.
type ScanPolicy struct {
	// Extensions is the allow-set of file extensions (lowercase, with
	// leading dot). Empty means all extensions are allowed.
	Extensions []string

	// MaxDepth limits recursion depth below the root. 0 means unlimited.
	// Depth 1 is the root's direct children.
	MaxDepth int

	// SkipHidden skips dot-prefixed files and directories.
	SkipHidden bool

	// FollowSymlinks resolves symlinked files instead of skipping them.
	// Symlinked directories are never descended into.
	FollowSymlinks bool

	// Recursive enables descending into subdirectories at all.
	Recursive bool
}

// Allows reports whether the policy admits a file with the given
// extension (lowercase, with leading dot).
func (p ScanPolicy) Allows(ext string) bool {
	if len(p.Extensions) == 0 {
		return true
	}
	for _, e := range p.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ScanStats summarizes one directory scan.
type ScanStats struct {
	Yielded int
	Skipped int // unreadable or policy-excluded entries
}

// ErrStopScan may be returned from a scan callback to end the scan
// early without error.
var ErrStopScan = fmt.Errorf("stop scan")

// Scanner walks scan roots and streams ScannedFile descriptors. Scans
// are lazy: files are delivered one at a time through the callback and
// result sets are never buffered. A scan of an inaccessible root yields
// nothing and is not an error.
type Scanner struct {
	logger Logger
}

// NewScanner creates a Scanner.
func NewScanner(logger Logger) *Scanner {
	return &Scanner{logger: logger}
}

// Scan walks root under the given policy, invoking fn once per admitted
// file. fn returning an error stops the scan; ErrStopScan stops it
// cleanly. Unreadable entries are skipped and counted. Cancelling ctx
// stops the walk promptly.
func (s *Scanner) Scan(ctx context.Context, root string, policy ScanPolicy, fn func(ScannedFile) error) (ScanStats, error) {
	var stats ScanStats

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return stats, fmt.Errorf("resolving root: %w", err)
	}

	if _, err := os.Stat(absRoot); err != nil {
		// Non-fatal by design: an offline volume must not abort the cycle.
		s.logger.Warn("scan root inaccessible", "root", absRoot, "error", err)
		return stats, nil
	}

	walkErr := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			stats.Skipped++
			s.logger.Warn("unreadable entry skipped", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		name := d.Name()
		hidden := policy.SkipHidden && strings.HasPrefix(name, ".") && p != absRoot

		if d.IsDir() {
			if p == absRoot {
				return nil
			}
			if hidden {
				return fs.SkipDir
			}
			if !policy.Recursive {
				return fs.SkipDir
			}
			if policy.MaxDepth > 0 && depthBelow(absRoot, p) >= policy.MaxDepth {
				return fs.SkipDir
			}
			return nil
		}

		if hidden {
			stats.Skipped++
			return nil
		}

		info, ferr := entryInfo(p, d, policy.FollowSymlinks)
		if ferr != nil {
			stats.Skipped++
			s.logger.Warn("unreadable file skipped", "path", p, "error", ferr)
			return nil
		}
		if info == nil {
			// Irregular file (symlink, device, socket) excluded by policy.
			stats.Skipped++
			return nil
		}

		ext := strings.ToLower(filepath.Ext(name))
		if !policy.Allows(ext) {
			stats.Skipped++
			return nil
		}

		sf := ScannedFile{
			FullPath:   p,
			FileName:   name,
			Extension:  ext,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		}

		if err := fn(sf); err != nil {
			return err
		}
		stats.Yielded++
		return nil
	})

	if walkErr != nil {
		if walkErr == ErrStopScan {
			return stats, nil
		}
		return stats, fmt.Errorf("walking %s: %w", absRoot, walkErr)
	}
	return stats, nil
}

// entryInfo stats a directory entry, optionally following symlinks.
// It returns nil info for irregular files that must be skipped.
func entryInfo(p string, d fs.DirEntry, followSymlinks bool) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		if !followSymlinks {
			return nil, nil
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			return nil, nil
		}
		return info, nil
	}
	if !d.Type().IsRegular() {
		return nil, nil
	}
	return d.Info()
}

// depthBelow counts path separators between root and p.
func depthBelow(root, p string) int {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
