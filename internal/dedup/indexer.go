package dedup

import (
	"context"
	"fmt"
)

// IndexingPolicy configures one indexing cycle.
type IndexingPolicy struct {
	BatchSize   int
	MaxParallel int
}

func (p IndexingPolicy) batchSize() int {
	if p.BatchSize <= 0 {
		return 100
	}
	return p.BatchSize
}

func (p IndexingPolicy) maxParallel() int {
	if p.MaxParallel <= 0 {
		return 4
	}
	return p.MaxParallel
}

// CycleResult summarizes one indexing cycle.
type CycleResult struct {
	RootsScanned  int
	RootsSkipped  int
	Scanned       int64
	Ingested      int64
	Failed        int64
	FailedBatches int
}

// Indexer drives one scan cycle across all enabled roots: stream
// scanned files into batches, filter out unchanged files before
// hashing, hash survivors under bounded parallelism and hand the
// results to the configured ingestor. No batch failure is fatal.
type Indexer struct {
	store    IndexStore
	scanner  *Scanner
	session  *ScanSession
	ingestor Ingestor
	policy   IndexingPolicy
	scanPol  ScanPolicy
	clock    Clock
	logger   Logger

	progress *Progress
}

// NewIndexer creates an Indexer.
func NewIndexer(store IndexStore, scanner *Scanner, session *ScanSession, ingestor Ingestor, policy IndexingPolicy, scanPol ScanPolicy, clock Clock, logger Logger) *Indexer {
	return &Indexer{
		store:    store,
		scanner:  scanner,
		session:  session,
		ingestor: ingestor,
		policy:   policy,
		scanPol:  scanPol,
		clock:    clock,
		logger:   logger,
		progress: NewProgress(clock),
	}
}

// Progress returns the live progress of the current cycle.
func (ix *Indexer) Progress() *Progress { return ix.progress }

// RunCycle starts a fresh session and indexes every enabled root.
// Roots already covered by this session are skipped without touching
// the filesystem.
func (ix *Indexer) RunCycle(ctx context.Context) (*CycleResult, error) {
	sessionID := ix.session.StartNewSession()
	ix.progress = NewProgress(ix.clock)
	ix.logger.Info("index cycle started", "session", sessionID)

	roots, err := ix.store.ListScanDirectories(true)
	if err != nil {
		return nil, fmt.Errorf("listing scan directories: %w", err)
	}

	result := &CycleResult{}
	for _, root := range roots {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		if ix.session.IsPathCovered(root.Path) {
			result.RootsSkipped++
			ix.logger.Debug("root covered by session, skipping", "root", root.Path)
			continue
		}
		if err := ix.IndexRoot(ctx, root, result); err != nil {
			return result, err
		}
		result.RootsScanned++
	}

	snap := ix.progress.Snapshot()
	result.Scanned = snap.Scanned
	result.Ingested = snap.Ingested
	result.Failed = snap.Failed

	ix.logger.Info("index cycle complete",
		"roots", result.RootsScanned,
		"scanned", result.Scanned,
		"ingested", result.Ingested,
		"failed", result.Failed)
	return result, nil
}

// IndexRoot scans a single root, flushing batches as they fill. The
// returned error is only for cancellation or walk failure; a failed
// batch is counted and the root continues.
func (ix *Indexer) IndexRoot(ctx context.Context, root *ScanDirectory, result *CycleResult) error {
	if ix.session.IsPathCovered(root.Path) {
		result.RootsSkipped++
		return nil
	}

	pol := ix.scanPol
	pol.Recursive = root.Recursive

	batch := make([]ScannedFile, 0, ix.policy.batchSize())

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ix.flushBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.FailedBatches++
			ix.progress.AddFailed(int64(len(batch)))
			ix.logger.Warn("batch failed", "root", root.Path, "size", len(batch), "error", err)
		}
		batch = batch[:0]
		return nil
	}

	_, err := ix.scanner.Scan(ctx, root.Path, pol, func(sf ScannedFile) error {
		if ix.session.IsFileProcessed(sf.FullPath) {
			return nil
		}
		ix.progress.AddScanned(1)
		batch = append(batch, sf)
		if len(batch) >= ix.policy.batchSize() {
			return flush()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", root.Path, err)
	}

	if err := flush(); err != nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	// Everything under the root destined for processing has settled;
	// the whole subtree may now be masked.
	ix.session.MarkDirectoryScanned(root.Path)
	return nil
}

// flushBatch runs one batch through the filter-hash-ingest pipeline.
func (ix *Indexer) flushBatch(ctx context.Context, batch []ScannedFile) error {
	stamps := make([]PathStamp, 0, len(batch))
	byPath := make(map[string]ScannedFile, len(batch))
	for _, sf := range batch {
		stamps = append(stamps, PathStamp{Path: sf.FullPath, ModifiedAt: sf.ModifiedAt})
		byPath[sf.FullPath] = sf
	}

	// Filter before hashing: unchanged files are never re-read.
	stale, err := ix.store.FilterNeedsReindex(ctx, stamps)
	if err != nil {
		return fmt.Errorf("filtering batch: %w", err)
	}

	staleSet := make(map[string]struct{}, len(stale))
	for _, p := range stale {
		staleSet[p] = struct{}{}
	}
	for _, sf := range batch {
		if _, ok := staleSet[sf.FullPath]; !ok {
			ix.session.MarkFileProcessed(sf.FullPath)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	var hashed []HashedFile
	for res := range HashBatch(ctx, stale, ix.policy.maxParallel()) {
		if res.FailureKind != HashOK {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ix.progress.AddFailed(1)
			if err := ix.store.MarkFileFailed(res.Path, string(res.FailureKind)); err != nil {
				ix.logger.Warn("recording hash failure", "path", res.Path, "error", err)
			}
			ix.session.MarkFileProcessed(res.Path)
			continue
		}
		sf := byPath[res.Path]
		hashed = append(hashed, HashedFile{ScannedFile: sf, ContentHash: res.Hash})
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if len(hashed) == 0 {
		return nil
	}

	br, err := ix.ingestor.Ingest(ctx, hashed)
	if err != nil {
		return fmt.Errorf("ingesting batch: %w", err)
	}

	failedPaths := make(map[string]string, len(br.Errors))
	for _, ie := range br.Errors {
		failedPaths[ie.FilePath] = ie.Message
	}

	var okFiles, okBytes int64
	for _, hf := range hashed {
		if msg, bad := failedPaths[hf.FullPath]; bad {
			ix.progress.AddFailed(1)
			if err := ix.store.MarkFileFailed(hf.FullPath, msg); err != nil {
				ix.logger.Warn("recording ingest failure", "path", hf.FullPath, "error", err)
			}
		} else {
			okFiles++
			okBytes += hf.SizeBytes
		}
		ix.session.MarkFileProcessed(hf.FullPath)
	}
	ix.progress.AddIngested(okFiles, okBytes)
	return nil
}
