package dedup_test

import (
	"testing"

	"dedup-go/internal/dedup"
	"dedup-go/internal/testutil"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  dedup.GroupStatus
		to    dedup.GroupStatus
		legal bool
	}{
		{"pending to auto_selected", dedup.StatusPending, dedup.StatusAutoSelected, true},
		{"pending to validated", dedup.StatusPending, dedup.StatusValidated, true},
		{"pending to conflict", dedup.StatusPending, dedup.StatusConflict, true},
		{"auto_selected rerun", dedup.StatusAutoSelected, dedup.StatusAutoSelected, true},
		{"auto_selected to validated", dedup.StatusAutoSelected, dedup.StatusValidated, true},
		{"conflict to validated", dedup.StatusConflict, dedup.StatusValidated, true},
		{"validated to cleaning", dedup.StatusValidated, dedup.StatusCleaning, true},
		{"validated back to pending", dedup.StatusValidated, dedup.StatusPending, true},
		{"cleaning to cleaned", dedup.StatusCleaning, dedup.StatusCleaned, true},
		{"cleaning to cleaning_failed", dedup.StatusCleaning, dedup.StatusCleaningFailed, true},
		{"cleaning_failed back to validated", dedup.StatusCleaningFailed, dedup.StatusValidated, true},
		{"cleaned reopened", dedup.StatusCleaned, dedup.StatusPending, true},

		{"pending cannot clean", dedup.StatusPending, dedup.StatusCleaning, false},
		{"pending cannot skip to cleaned", dedup.StatusPending, dedup.StatusCleaned, false},
		{"auto_selected cannot clean", dedup.StatusAutoSelected, dedup.StatusCleaning, false},
		{"conflict cannot clean", dedup.StatusConflict, dedup.StatusCleaning, false},
		{"validated cannot jump to cleaned", dedup.StatusValidated, dedup.StatusCleaned, false},
		{"cleaned cannot revalidate", dedup.StatusCleaned, dedup.StatusValidated, false},
		{"cleaning cannot abort to pending", dedup.StatusCleaning, dedup.StatusPending, false},
		{"validated cannot reconflict", dedup.StatusValidated, dedup.StatusConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dedup.ValidateTransition(tt.from, tt.to)
			if tt.legal && err != nil {
				t.Errorf("ValidateTransition(%s, %s) = %v, want nil", tt.from, tt.to, err)
			}
			if !tt.legal {
				if err == nil {
					t.Fatalf("ValidateTransition(%s, %s) = nil, want error", tt.from, tt.to)
				}
				if !dedup.IsTransitionError(err) {
					t.Errorf("error is %T, want *TransitionError", err)
				}
			}
		})
	}
}

func TestAlgorithmEligible(t *testing.T) {
	eligible := map[dedup.GroupStatus]bool{
		dedup.StatusPending:      true,
		dedup.StatusAutoSelected: true,
		dedup.StatusConflict:     true,
	}
	all := []dedup.GroupStatus{
		dedup.StatusPending, dedup.StatusAutoSelected, dedup.StatusConflict,
		dedup.StatusValidated, dedup.StatusCleaning, dedup.StatusCleaned,
		dedup.StatusCleaningFailed,
	}
	for _, st := range all {
		if got := dedup.AlgorithmEligible(st); got != eligible[st] {
			t.Errorf("AlgorithmEligible(%s) = %v, want %v", st, got, eligible[st])
		}
	}
}

func TestTransitionGroup_Timestamps(t *testing.T) {
	clock := testutil.FixedClock()
	now := clock.Now().UTC()

	g := &dedup.DuplicateGroup{Status: dedup.StatusPending}
	if err := dedup.TransitionGroup(g, dedup.StatusValidated, clock); err != nil {
		t.Fatalf("to validated: %v", err)
	}
	if g.ValidatedAt == nil || !g.ValidatedAt.Equal(now) {
		t.Errorf("ValidatedAt = %v, want %v", g.ValidatedAt, now)
	}

	if err := dedup.TransitionGroup(g, dedup.StatusCleaning, clock); err != nil {
		t.Fatalf("to cleaning: %v", err)
	}
	if err := dedup.TransitionGroup(g, dedup.StatusCleaned, clock); err != nil {
		t.Fatalf("to cleaned: %v", err)
	}
	if g.ResolvedAt == nil || !g.ResolvedAt.Equal(now) {
		t.Errorf("ResolvedAt = %v, want %v", g.ResolvedAt, now)
	}

	// Reopening clears both lifecycle stamps.
	if err := dedup.TransitionGroup(g, dedup.StatusPending, clock); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if g.ValidatedAt != nil || g.ResolvedAt != nil {
		t.Errorf("reopen kept timestamps: validated=%v resolved=%v", g.ValidatedAt, g.ResolvedAt)
	}
}

func TestTransitionGroup_RejectsWithoutMutation(t *testing.T) {
	clock := testutil.FixedClock()
	g := &dedup.DuplicateGroup{Status: dedup.StatusPending}

	err := dedup.TransitionGroup(g, dedup.StatusCleaning, clock)
	if err == nil {
		t.Fatal("expected transition error")
	}
	if g.Status != dedup.StatusPending {
		t.Errorf("status mutated to %s on rejected transition", g.Status)
	}
	if g.ValidatedAt != nil || g.ResolvedAt != nil {
		t.Error("timestamps stamped on rejected transition")
	}
}
