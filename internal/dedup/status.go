package dedup

// transition is one legal (from,to) pair in the group status machine.
type transition struct {
	from GroupStatus
	to   GroupStatus
}

// legalTransitions is the complete status machine as data. Any pair not
// listed here is rejected before mutation. cleaned -> pending is the
// admin-only reopen path.
var legalTransitions = map[transition]bool{
	{StatusPending, StatusAutoSelected}:        true,
	{StatusPending, StatusValidated}:           true,
	{StatusPending, StatusConflict}:            true,
	{StatusAutoSelected, StatusAutoSelected}:   true,
	{StatusAutoSelected, StatusValidated}:      true,
	{StatusAutoSelected, StatusPending}:        true,
	{StatusAutoSelected, StatusConflict}:       true,
	{StatusConflict, StatusPending}:            true,
	{StatusConflict, StatusAutoSelected}:       true,
	{StatusConflict, StatusValidated}:          true,
	{StatusValidated, StatusCleaning}:          true,
	{StatusValidated, StatusPending}:           true,
	{StatusCleaning, StatusCleaned}:            true,
	{StatusCleaning, StatusCleaningFailed}:     true,
	{StatusCleaningFailed, StatusValidated}:    true,
	{StatusCleaningFailed, StatusPending}:      true,
	{StatusCleaned, StatusPending}:             true,
}

// algorithmEligible is the subset of statuses the selector may
// (re-)process. Validated and later statuses hold a human or confirmed
// decision and are protected from being silently reconsidered.
var algorithmEligible = map[GroupStatus]bool{
	StatusPending:      true,
	StatusAutoSelected: true,
	StatusConflict:     true,
}

// ValidateTransition reports whether from -> to is legal, returning a
// TransitionError otherwise. Callers must invoke this before persisting
// any status change.
func ValidateTransition(from, to GroupStatus) error {
	if legalTransitions[transition{from, to}] {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// AlgorithmEligible reports whether groups in the given status may be
// processed by the original-selection algorithm.
func AlgorithmEligible(status GroupStatus) bool {
	return algorithmEligible[status]
}

// AlgorithmEligibleStatuses returns the eligible statuses for store
// queries.
func AlgorithmEligibleStatuses() []GroupStatus {
	return []GroupStatus{StatusPending, StatusAutoSelected, StatusConflict}
}

// TransitionGroup validates and applies a status change on the in-memory
// group, stamping lifecycle timestamps. The caller persists the group.
func TransitionGroup(g *DuplicateGroup, to GroupStatus, clock Clock) error {
	if err := ValidateTransition(g.Status, to); err != nil {
		return err
	}
	now := clock.Now().UTC()
	switch to {
	case StatusValidated:
		g.ValidatedAt = &now
	case StatusCleaned:
		g.ResolvedAt = &now
	case StatusPending:
		g.ValidatedAt = nil
		g.ResolvedAt = nil
	}
	g.Status = to
	return nil
}
