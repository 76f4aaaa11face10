// Package app is the application layer between the CLI binaries and
// the dedup domain: it constructs all dependencies from config and
// manages their lifecycle on Close.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dedup-go/internal/archive"
	"dedup-go/internal/config"
	"dedup-go/internal/database"
	"dedup-go/internal/dedup"
	"dedup-go/internal/encryption"
	"dedup-go/internal/hub"
	"dedup-go/internal/metadata"
)

// thumbnailMaxDim bounds the long edge of generated preview thumbnails.
const thumbnailMaxDim = 320

// App wires the coordinator: store, archive, hub, and the domain
// components built on them. The caller must call Close when done.
type App struct {
	cfg *config.Config

	store     dedup.IndexStore
	archive   dedup.Archive
	encryptor dedup.Encryptor
	channel   *hub.Hub

	session    *dedup.ScanSession
	indexer    *dedup.Indexer
	grouper    *dedup.Grouper
	selector   *dedup.Selector
	dispatcher *dedup.CleanupDispatcher
	sweeper    *dedup.Sweeper

	clock   dedup.Clock
	logger  dedup.Logger
	op      *CycleOperation
	logFile *os.File

	hubStarted        bool
	dispatcherStarted bool
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Scan", "Dispatch").
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	clock := dedup.RealClock{}
	idgen := dedup.UUIDGenerator{}

	store, err := database.NewStoreFromConfig(cfg.Database, cfg.HostID, clock, idgen)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating index store: %w", err)
	}

	arch, err := archive.NewArchiveFromConfig(ctx, cfg.Archive)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	channel := hub.NewHub(cfg.Hub.ListenAddr, idgen, logger)

	session := dedup.NewScanSession(idgen)
	scanner := dedup.NewScanner(logger)

	indexingPolicy := dedup.IndexingPolicy{
		BatchSize:   cfg.Indexing.BatchSize,
		MaxParallel: cfg.Indexing.MaxParallel,
	}
	scanPolicy := dedup.ScanPolicy{
		Extensions:     cfg.Scanner.Extensions,
		MaxDepth:       cfg.Scanner.MaxDepth,
		SkipHidden:     cfg.Scanner.SkipHidden,
		FollowSymlinks: cfg.Scanner.FollowSymlinks,
		Recursive:      true,
	}

	var ingestor dedup.Ingestor
	switch cfg.Indexing.Mode {
	case "", "local":
		extractor := metadata.NewExifExtractor(thumbnailMaxDim, logger)
		ingestor = dedup.NewLocalIngestor(store, extractor, indexingPolicy.MaxParallel, clock, logger)
	case "distributed":
		ingestor = hub.NewRemoteIngestor(store, arch, channel, indexingPolicy.MaxParallel, clock, logger)
	default:
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("unknown indexing mode: %s", cfg.Indexing.Mode)
	}

	selectionPolicy := dedup.DefaultSelectionPolicy()
	if cfg.Selection.ConflictThreshold > 0 {
		selectionPolicy.ConflictThreshold = cfg.Selection.ConflictThreshold
	}
	for _, r := range cfg.Selection.PriorityRules {
		selectionPolicy.PriorityRules = append(selectionPolicy.PriorityRules,
			dedup.PriorityRule{Prefix: r.Prefix, Weight: r.Weight})
	}

	retention := dedup.RetentionPolicy{}
	for name, days := range cfg.Cleaner.RetentionDays {
		retention[dedup.Category(name)] = days
	}

	return &App{
		cfg:        cfg,
		store:      store,
		archive:    arch,
		encryptor:  enc,
		channel:    channel,
		session:    session,
		indexer:    dedup.NewIndexer(store, scanner, session, ingestor, indexingPolicy, scanPolicy, clock, logger),
		grouper:    dedup.NewGrouper(store, clock, idgen, logger),
		selector:   dedup.NewSelector(store, selectionPolicy, clock, logger),
		dispatcher: dedup.NewCleanupDispatcher(store, channel, clock, idgen, logger),
		sweeper:    dedup.NewSweeper(arch, retention, clock, logger),
		clock:      clock,
		logger:     logger,
		op:         NewCycleOperation(operation),
		logFile:    logFile,
	}, nil
}

// persistOperation records the cycle in scan_cycles. Called only by
// index-mutating commands.
func (a *App) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	cycle, err := a.store.CreateScanCycle(a.op.Operation)
	if err != nil {
		return fmt.Errorf("persisting scan cycle: %w", err)
	}
	a.op.ID = cycle.ID
	return nil
}

// StartHub binds the worker listener. Needed before dispatching
// cleanup jobs or running a distributed scan.
func (a *App) StartHub(ctx context.Context) error {
	if a.hubStarted {
		return nil
	}
	if err := a.channel.Start(ctx); err != nil {
		return err
	}
	a.hubStarted = true
	return nil
}

// AddDirectory registers an absolute path as a scan root.
func (a *App) AddDirectory(rawPath string, recursive bool) (*dedup.ScanDirectory, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("checking path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", abs)
	}
	return a.store.CreateScanDirectory(abs, recursive)
}

// ListDirectories returns registered scan roots.
func (a *App) ListDirectories(enabledOnly bool) ([]*dedup.ScanDirectory, error) {
	return a.store.ListScanDirectories(enabledOnly)
}

// SetDirectoryEnabled toggles a scan root.
func (a *App) SetDirectoryEnabled(id string, enabled bool) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	return a.store.SetScanDirectoryEnabled(id, enabled)
}

// Scan runs one full indexing cycle over all enabled roots, then
// refreshes duplicate groups from the updated index.
func (a *App) Scan(ctx context.Context) (*dedup.CycleResult, *dedup.GrouperResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, nil, err
	}
	if a.cfg.Indexing.Mode == "distributed" {
		if err := a.StartHub(ctx); err != nil {
			return nil, nil, err
		}
	}

	result, err := a.indexer.RunCycle(ctx)
	if result != nil {
		a.op.Scanned = result.Scanned
		a.op.Ingested = result.Ingested
		a.op.Failed = result.Failed
	}
	if err != nil {
		a.op.Status = "failed"
		return result, nil, err
	}

	groups, err := a.grouper.Refresh(ctx)
	if err != nil {
		a.op.Status = "failed"
		return result, nil, fmt.Errorf("refreshing groups: %w", err)
	}
	return result, groups, nil
}

// Progress exposes the live progress of the running cycle.
func (a *App) Progress() *dedup.Progress {
	return a.indexer.Progress()
}

// RefreshGroups regroups the index without rescanning.
func (a *App) RefreshGroups(ctx context.Context) (*dedup.GrouperResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	return a.grouper.Refresh(ctx)
}

// SelectOriginals runs original selection over all eligible groups.
func (a *App) SelectOriginals(ctx context.Context) (*dedup.SelectionResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	return a.selector.SelectAll(ctx)
}

// SelectGroup runs original selection on one group.
func (a *App) SelectGroup(ctx context.Context, groupID string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	return a.selector.SelectGroup(ctx, groupID)
}

// ListGroups returns groups in the given statuses; with none given,
// all statuses are included.
func (a *App) ListGroups(statuses ...dedup.GroupStatus) ([]*dedup.DuplicateGroup, error) {
	if len(statuses) == 0 {
		statuses = []dedup.GroupStatus{
			dedup.StatusPending, dedup.StatusAutoSelected, dedup.StatusConflict,
			dedup.StatusValidated, dedup.StatusCleaning, dedup.StatusCleaned,
			dedup.StatusCleaningFailed,
		}
	}
	return a.store.ListGroupsByStatus(statuses...)
}

// GroupFiles returns the members of a group.
func (a *App) GroupFiles(groupID string) ([]*dedup.IndexedFile, error) {
	return a.store.FindFilesByGroup(groupID)
}

// TransitionGroup applies a reviewed status change, e.g. validating an
// auto-selected group or sending a conflicted group back to pending.
func (a *App) TransitionGroup(groupID string, to dedup.GroupStatus) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	group, err := a.store.FindGroupByID(groupID)
	if err != nil {
		return fmt.Errorf("loading group: %w", err)
	}
	if group == nil {
		return fmt.Errorf("group not found: %s", groupID)
	}
	if err := dedup.TransitionGroup(group, to, a.clock); err != nil {
		return err
	}
	return a.store.UpdateGroup(group)
}

// HideFile hides or unhides an indexed file.
func (a *App) HideFile(fileID string, hidden bool, reason string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	return a.store.SetFileHidden(fileID, hidden, reason)
}

// CreateCleanupJob builds a cleanup job from a validated group.
func (a *App) CreateCleanupJob(groupID string, category dedup.Category) (*dedup.CleanupJob, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	return a.dispatcher.CreateJob(groupID, category)
}

// DispatchJob processes one cleanup job in the foreground, waiting for
// a connected cleanup worker to execute each delete. workerWait gives
// workers time to connect after the listener comes up.
func (a *App) DispatchJob(ctx context.Context, jobID string, workerWait time.Duration) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	if err := a.StartHub(ctx); err != nil {
		return err
	}

	if workerWait > 0 && !a.channel.HasWorker(dedup.CapabilityCleanup) {
		a.logger.Info("waiting for cleanup worker", "timeout", workerWait.String())
		deadline := time.Now().Add(workerWait)
		for time.Now().Before(deadline) && !a.channel.HasWorker(dedup.CapabilityCleanup) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
			}
		}
	}
	return a.dispatcher.ProcessJob(ctx, jobID)
}

// Sweep runs one retention sweep over the archive.
func (a *App) Sweep(ctx context.Context) (*dedup.SweepResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	return a.sweeper.Sweep(ctx)
}

// Serve runs the coordinator in the foreground: worker listener,
// serialized cleanup dispatch, and the daily retention sweep. Blocks
// until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	if err := a.StartHub(ctx); err != nil {
		return err
	}

	a.dispatcher.Start(ctx)
	a.dispatcherStarted = true

	if a.cfg.Cleaner.SweepTime != "" {
		go func() {
			if err := a.sweeper.RunDaily(ctx, a.cfg.Cleaner.SweepTime); err != nil && ctx.Err() == nil {
				a.logger.Error("daily sweep loop stopped", "error", err)
			}
		}()
	}

	a.logger.Info("coordinator serving", "listen", a.cfg.Hub.ListenAddr)
	<-ctx.Done()
	return ctx.Err()
}

// EnqueueJob hands a job to the background dispatcher (serve mode).
func (a *App) EnqueueJob(jobID string) error {
	return a.dispatcher.Enqueue(jobID)
}

// History returns the most recent recorded operations.
func (a *App) History(limit int) ([]*dedup.ScanCycle, error) {
	return a.store.ListScanCycles(limit)
}

// Encryptor exposes the configured archive encryptor for setup
// commands. Nil when encryption is disabled.
func (a *App) Encryptor() dedup.Encryptor {
	return a.encryptor
}

// ValidateArchive checks that the archive backend is reachable.
func (a *App) ValidateArchive(ctx context.Context) error {
	return a.archive.ValidateSetup(ctx)
}

// Close finalizes the operation record and releases all resources.
func (a *App) Close() error {
	var firstErr error

	if a.dispatcherStarted {
		a.dispatcher.Stop()
	}
	if a.hubStarted {
		a.channel.Stop()
	}

	if a.op.Persisted() {
		if err := a.store.FinishScanCycle(a.op.ID, a.op.Status, a.op.Scanned, a.op.Ingested, a.op.Failed); err != nil {
			firstErr = fmt.Errorf("finishing scan cycle: %w", err)
		}
	}

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing index store: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
