package dedup_test

import (
	"context"
	"testing"
	"time"

	"dedup-go/internal/dedup"
	"dedup-go/internal/testutil"
)

// seedGroup ingests duplicates of content under the given paths, runs a
// grouping pass and returns the resulting group.
func seedGroup(t *testing.T, store dedup.IndexStore, clock dedup.Clock, idgen dedup.IDGenerator, content []byte, paths ...string) *dedup.DuplicateGroup {
	t.Helper()

	// One shared timestamp: candidates differing only in path must score
	// an exact tie.
	hash := testutil.SHA256Hex(content)
	at := clock.Now().UTC().Add(-24 * time.Hour)
	entries := make([]dedup.IngestEntry, len(paths))
	for i, p := range paths {
		entries[i] = testutil.Entry(p, hash, int64(len(content)), at)
	}
	testutil.Ingest(t, store, entries...)

	grouper := dedup.NewGrouper(store, clock, idgen, dedup.NewNopLogger())
	if _, err := grouper.Refresh(context.Background()); err != nil {
		t.Fatalf("grouping: %v", err)
	}
	group, err := store.FindGroupByHash(hash)
	if err != nil || group == nil {
		t.Fatalf("group missing: %v", err)
	}
	return group
}

func TestSelector_PriorityRuleWins(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	group := seedGroup(t, store, clock, idgen, []byte("shot"),
		"/photos/copies/img.jpg",
		"/photos/originals/img.jpg",
	)

	policy := dedup.DefaultSelectionPolicy()
	policy.PriorityRules = []dedup.PriorityRule{{Prefix: "/photos/originals", Weight: 1.0}}

	selector := dedup.NewSelector(store, policy, clock, dedup.NewNopLogger())
	if err := selector.SelectGroup(context.Background(), group.ID); err != nil {
		t.Fatalf("SelectGroup failed: %v", err)
	}

	group, _ = store.FindGroupByID(group.ID)
	if group.Status != dedup.StatusAutoSelected {
		t.Fatalf("status = %s, want auto_selected", group.Status)
	}
	kept, _ := store.FindFileByID(group.KeptFileID)
	if kept == nil || kept.FilePath != "/photos/originals/img.jpg" {
		t.Errorf("kept = %+v, want the prioritized path", kept)
	}

	copy, _ := store.FindFileByPath("/photos/copies/img.jpg")
	if !copy.IsDuplicate {
		t.Error("losing candidate should stay a duplicate")
	}
	if kept.IsDuplicate {
		t.Error("kept file should not be a duplicate")
	}
}

func TestSelector_CloseScoresConflict(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	// Same depth, same mtime, same path length: the scores tie exactly.
	group := seedGroup(t, store, clock, idgen, []byte("shot"),
		"/p/a.jpg",
		"/p/b.jpg",
	)

	policy := dedup.DefaultSelectionPolicy() // threshold 0.1
	selector := dedup.NewSelector(store, policy, clock, dedup.NewNopLogger())
	if err := selector.SelectGroup(context.Background(), group.ID); err != nil {
		t.Fatalf("SelectGroup failed: %v", err)
	}

	group, _ = store.FindGroupByID(group.ID)
	if group.Status != dedup.StatusConflict {
		t.Fatalf("status = %s, want conflict", group.Status)
	}
	if group.KeptFileID != "" {
		t.Errorf("conflicted group must not auto-mark an original, kept=%q", group.KeptFileID)
	}
}

func TestSelector_TieBreaksOnPath(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	group := seedGroup(t, store, clock, idgen, []byte("shot"),
		"/p/b.jpg",
		"/p/a.jpg",
	)

	policy := dedup.DefaultSelectionPolicy()
	policy.ConflictThreshold = 0 // exact ties fall through to selection

	selector := dedup.NewSelector(store, policy, clock, dedup.NewNopLogger())
	for i := 0; i < 3; i++ {
		if err := selector.SelectGroup(context.Background(), group.ID); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		group, _ = store.FindGroupByID(group.ID)
		kept, _ := store.FindFileByID(group.KeptFileID)
		if kept == nil || kept.FilePath != "/p/a.jpg" {
			t.Fatalf("run %d kept %+v, want /p/a.jpg every time", i, kept)
		}
	}
}

func TestSelector_HiddenFilesExcluded(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	group := seedGroup(t, store, clock, idgen, []byte("shot"),
		"/photos/originals/img.jpg",
		"/photos/copies/img.jpg",
	)

	best, _ := store.FindFileByPath("/photos/originals/img.jpg")
	if err := store.SetFileHidden(best.ID, true, "corrupt"); err != nil {
		t.Fatalf("hiding: %v", err)
	}

	policy := dedup.DefaultSelectionPolicy()
	policy.PriorityRules = []dedup.PriorityRule{{Prefix: "/photos/originals", Weight: 1.0}}

	selector := dedup.NewSelector(store, policy, clock, dedup.NewNopLogger())
	if err := selector.SelectGroup(context.Background(), group.ID); err != nil {
		t.Fatalf("SelectGroup failed: %v", err)
	}

	group, _ = store.FindGroupByID(group.ID)
	kept, _ := store.FindFileByID(group.KeptFileID)
	if kept == nil || kept.FilePath != "/photos/copies/img.jpg" {
		t.Errorf("kept = %+v, hidden candidates must not win", kept)
	}
}

func TestSelector_ProtectedStatusRejected(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	group := seedGroup(t, store, clock, idgen, []byte("shot"),
		"/p/a.jpg",
		"/p/b.jpg",
	)

	if err := dedup.TransitionGroup(group, dedup.StatusValidated, clock); err != nil {
		t.Fatalf("validating: %v", err)
	}
	if err := store.UpdateGroup(group); err != nil {
		t.Fatalf("persisting: %v", err)
	}

	selector := dedup.NewSelector(store, dedup.DefaultSelectionPolicy(), clock, dedup.NewNopLogger())
	if err := selector.SelectGroup(context.Background(), group.ID); err == nil {
		t.Fatal("validated group must be protected from re-selection")
	}
}

func TestSelector_SelectAll(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	seedGroup(t, store, clock, idgen, []byte("one"),
		"/photos/originals/a.jpg",
		"/photos/copies/deep/nested/a.jpg",
	)
	seedGroup(t, store, clock, idgen, []byte("two"),
		"/p/a.jpg",
		"/p/b.jpg",
	)

	policy := dedup.DefaultSelectionPolicy()
	policy.PriorityRules = []dedup.PriorityRule{{Prefix: "/photos/originals", Weight: 1.0}}

	selector := dedup.NewSelector(store, policy, clock, dedup.NewNopLogger())
	result, err := selector.SelectAll(context.Background())
	if err != nil {
		t.Fatalf("SelectAll failed: %v", err)
	}
	if result.Selected != 1 || result.Conflicts != 1 || result.Skipped != 0 {
		t.Errorf("result = %+v, want 1 selected, 1 conflict", result)
	}
}
