package dedup

import (
	"errors"
	"fmt"
)

// ErrNoWorkerConnected is returned by the cleanup dispatcher when no
// worker with the required capability is connected. The affected job
// fails immediately; it is never queued waiting for a worker.
var ErrNoWorkerConnected = errors.New("no worker connected")

// ErrJobInFlight is returned when a dispatch is requested while another
// job is already being processed.
var ErrJobInFlight = errors.New("another cleanup job is already in flight")

// Delete outcome kinds reported by the remote worker. They are distinct
// so the coordinator never confuses a drifted file with a missing one.
const (
	OutcomeFileChanged      = "file_changed"
	OutcomeNotFound         = "not_found"
	OutcomePermissionDenied = "permission_denied"
	OutcomeArchiveFailed    = "archive_failed"
	OutcomeRemoveFailed     = "remove_failed"
)

// TransitionError reports an illegal duplicate-group status mutation.
// It is returned before any state is persisted.
type TransitionError struct {
	From GroupStatus
	To   GroupStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal group status transition: %s -> %s", e.From, e.To)
}

// IsTransitionError reports whether err is a TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
