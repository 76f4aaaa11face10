package dedup

import (
	"context"
	"fmt"
	"sync"
)

// Worker capabilities announced at registration.
const (
	CapabilityCleanup  = "cleanup"
	CapabilityIndexing = "indexing"
)

// DeleteCommand is one delete instruction pushed to a cleanup worker.
// It carries the expected content hash so the worker can refuse to
// delete a file that drifted since review.
type DeleteCommand struct {
	JobID       string
	FileID      string
	FilePath    string
	ContentHash string
	SizeBytes   int64
	Category    Category
}

// DeleteReport is the worker's per-file outcome.
type DeleteReport struct {
	JobID      string
	FileID     string
	Status     JobFileStatus
	ArchiveKey string
	ErrorKind  string
	Error      string
}

// WorkerChannel is the coordinator-side view of the persistent channel
// to connected workers.
type WorkerChannel interface {
	// HasWorker reports whether a worker with the capability is
	// currently connected.
	HasWorker(capability string) bool

	// ExecuteDelete pushes a delete command to a connected cleanup
	// worker and waits for its report.
	ExecuteDelete(ctx context.Context, cmd DeleteCommand) (*DeleteReport, error)
}

// CleanupDispatcher turns validated duplicate groups into cleanup jobs
// and streams delete commands to the connected worker. Dispatch is
// serialized through one bounded queue: at most one job is actively
// processed, so a mid-dispatch crash leaves at most one job ambiguous.
type CleanupDispatcher struct {
	store   IndexStore
	channel WorkerChannel
	clock   Clock
	idgen   IDGenerator
	logger  Logger

	jobs   chan string
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// NewCleanupDispatcher creates a dispatcher. Start must be called
// before Enqueue.
func NewCleanupDispatcher(store IndexStore, channel WorkerChannel, clock Clock, idgen IDGenerator, logger Logger) *CleanupDispatcher {
	return &CleanupDispatcher{
		store:   store,
		channel: channel,
		clock:   clock,
		idgen:   idgen,
		logger:  logger,
		jobs:    make(chan string, 1),
	}
}

// Start launches the single dispatch loop.
func (d *CleanupDispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case jobID := <-d.jobs:
				if err := d.ProcessJob(ctx, jobID); err != nil {
					d.logger.Error("job processing failed", "job", jobID, "error", err)
				}
			}
		}
	}()
}

// Stop shuts the dispatch loop down and waits for the in-flight job.
func (d *CleanupDispatcher) Stop() {
	d.once.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
	})
}

// CreateJob builds a cleanup job from a validated group, listing its
// non-kept, non-hidden members in stable order. Any other group status
// is rejected.
func (d *CleanupDispatcher) CreateJob(groupID string, category Category) (*CleanupJob, error) {
	group, err := d.store.FindGroupByID(groupID)
	if err != nil {
		return nil, fmt.Errorf("loading group: %w", err)
	}
	if group == nil {
		return nil, fmt.Errorf("group not found: %s", groupID)
	}
	if group.Status != StatusValidated {
		return nil, fmt.Errorf("group %s is %s, cleanup requires validated", groupID, group.Status)
	}

	members, err := d.store.FindFilesByGroup(groupID)
	if err != nil {
		return nil, fmt.Errorf("loading members: %w", err)
	}

	job := &CleanupJob{
		ID:        d.idgen.New(),
		GroupID:   groupID,
		Category:  category,
		Status:    JobPending,
		CreatedAt: d.clock.Now().UTC(),
	}

	var files []*CleanupJobFile
	for _, m := range members {
		if m.IsHidden || m.ID == group.KeptFileID || !m.IsDuplicate {
			continue
		}
		files = append(files, &CleanupJobFile{
			JobID:     job.ID,
			FileID:    m.ID,
			FilePath:  m.FilePath,
			FileHash:  m.ContentHash,
			SizeBytes: m.SizeBytes,
			Position:  len(files),
			Status:    JobFilePending,
		})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("group %s has no deletable members", groupID)
	}

	if err := d.store.CreateCleanupJob(job, files); err != nil {
		return nil, fmt.Errorf("persisting job: %w", err)
	}
	return job, nil
}

// Enqueue hands a job to the dispatch loop. A second job while one is
// queued or in flight is refused rather than stacked up.
func (d *CleanupDispatcher) Enqueue(jobID string) error {
	select {
	case d.jobs <- jobID:
		return nil
	default:
		return ErrJobInFlight
	}
}

// ProcessJob executes one cleanup job. With no connected cleanup worker
// the job fails immediately and the group stays validated; commands
// are never queued waiting for a worker to appear.
func (d *CleanupDispatcher) ProcessJob(ctx context.Context, jobID string) error {
	job, err := d.store.FindCleanupJob(jobID)
	if err != nil {
		return fmt.Errorf("loading job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	group, err := d.store.FindGroupByID(job.GroupID)
	if err != nil {
		return fmt.Errorf("loading group: %w", err)
	}
	if group == nil {
		return fmt.Errorf("group not found: %s", job.GroupID)
	}

	if !d.channel.HasWorker(CapabilityCleanup) {
		d.logger.Warn("no cleanup worker connected, failing job", "job", job.ID)
		return d.finishJob(job, group, JobFailed, false)
	}

	// A crashed run can leave the group in cleaning with the job only
	// partially settled; re-dispatch picks up where it stopped.
	if group.Status != StatusCleaning {
		if err := d.transition(group, StatusCleaning); err != nil {
			return err
		}
	}

	now := d.clock.Now().UTC()
	job.Status = JobRunning
	job.StartedAt = &now
	if err := d.store.UpdateCleanupJob(job); err != nil {
		return fmt.Errorf("starting job: %w", err)
	}

	files, err := d.store.FindJobFiles(job.ID)
	if err != nil {
		return fmt.Errorf("loading job files: %w", err)
	}

	anyFailed := false
	for _, f := range files {
		if f.Status.Terminal() {
			// Crash recovery: the entry already settled in a prior run.
			if f.Status == JobFileFailed {
				anyFailed = true
			}
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err := d.store.UpdateJobFileStatus(job.ID, f.FileID, JobFileSent, ""); err != nil {
			return fmt.Errorf("marking sent: %w", err)
		}

		report, err := d.channel.ExecuteDelete(ctx, DeleteCommand{
			JobID:       job.ID,
			FileID:      f.FileID,
			FilePath:    f.FilePath,
			ContentHash: f.FileHash,
			SizeBytes:   f.SizeBytes,
			Category:    job.Category,
		})
		if err != nil {
			// Channel broke mid-job: fail this file, leave the rest
			// pending for a re-dispatch.
			d.logger.Error("delete command failed", "job", job.ID, "file", f.FilePath, "error", err)
			if uerr := d.store.UpdateJobFileStatus(job.ID, f.FileID, JobFileFailed, "channel_error"); uerr != nil {
				return fmt.Errorf("marking failed: %w", uerr)
			}
			anyFailed = true
			break
		}

		if err := d.store.UpdateJobFileStatus(job.ID, f.FileID, report.Status, report.ErrorKind); err != nil {
			return fmt.Errorf("recording report: %w", err)
		}
		if report.Status == JobFileFailed {
			anyFailed = true
			d.logger.Warn("delete refused by worker",
				"job", job.ID, "file", f.FilePath, "kind", report.ErrorKind)
		}
	}

	status := JobCompleted
	if anyFailed {
		status = JobFailed
	}
	return d.finishJob(job, group, status, true)
}

// finishJob retires the job and settles the group. A clean job ends
// cleaned; any failure walks the group back to validated so the review
// decision survives for a retry.
func (d *CleanupDispatcher) finishJob(job *CleanupJob, group *DuplicateGroup, status JobStatus, started bool) error {
	now := d.clock.Now().UTC()
	job.Status = status
	job.FinishedAt = &now
	if err := d.store.UpdateCleanupJob(job); err != nil {
		return fmt.Errorf("finishing job: %w", err)
	}

	if !started {
		// Group never left validated.
		return nil
	}

	if status == JobCompleted {
		return d.transition(group, StatusCleaned)
	}
	if err := d.transition(group, StatusCleaningFailed); err != nil {
		return err
	}
	return d.transition(group, StatusValidated)
}

func (d *CleanupDispatcher) transition(group *DuplicateGroup, to GroupStatus) error {
	if err := TransitionGroup(group, to, d.clock); err != nil {
		return err
	}
	if err := d.store.UpdateGroup(group); err != nil {
		return fmt.Errorf("persisting group status: %w", err)
	}
	return nil
}
