package dedup

import (
	"path/filepath"
	"strings"
	"sync"
)

// ScanSession is the per-cycle memory of what has already been handled.
// It holds two sets of normalized absolute paths: completed directories
// and processed files. A directory entry masks its entire subtree, so
// re-submitting a covered path skips the filesystem entirely.
//
// The session is created at cycle start, discarded at cycle end and
// never shared across cycles. The sets tolerate concurrent reads and
// writes from in-flight batch workers; the ordering invariant (a
// directory is marked complete only after everything beneath it has
// been processed) is the orchestrator's responsibility.
type ScanSession struct {
	idgen IDGenerator

	mu          sync.RWMutex
	sessionID   string
	directories map[string]struct{}
	files       map[string]struct{}
}

// NewScanSession creates an empty session with a fresh session ID.
func NewScanSession(idgen IDGenerator) *ScanSession {
	s := &ScanSession{idgen: idgen}
	s.StartNewSession()
	return s
}

// StartNewSession atomically resets both sets and assigns a new session
// ID. Called exactly once per cycle.
func (s *ScanSession) StartNewSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = s.idgen.New()
	s.directories = make(map[string]struct{})
	s.files = make(map[string]struct{})
	return s.sessionID
}

// ID returns the current session ID.
func (s *ScanSession) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// MarkDirectoryScanned records a completed directory. Idempotent.
func (s *ScanSession) MarkDirectoryScanned(path string) {
	p := normalizePath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directories[p] = struct{}{}
}

// MarkFileProcessed records a processed file. Idempotent.
func (s *ScanSession) MarkFileProcessed(path string) {
	p := normalizePath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[p] = struct{}{}
}

// IsFileProcessed reports whether the file was already processed this
// cycle.
func (s *ScanSession) IsFileProcessed(path string) bool {
	p := normalizePath(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[p]
	return ok
}

// IsPathCovered reports whether path equals or descends from any
// completed directory. This is the hierarchical mask that lets whole
// subtrees be skipped without touching the filesystem again.
func (s *ScanSession) IsPathCovered(path string) bool {
	p := normalizePath(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for dir := range s.directories {
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// DirectoryCount returns the number of completed directories.
func (s *ScanSession) DirectoryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.directories)
}

// FileCount returns the number of processed files.
func (s *ScanSession) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// normalizePath cleans a path and strips any trailing separator so set
// membership is comparable.
func normalizePath(p string) string {
	return filepath.Clean(p)
}
