package dedup_test

import (
	"context"
	"testing"
	"time"

	"dedup-go/internal/dedup"
	"dedup-go/internal/testutil"
)

func TestGrouper_CreatesGroupWithEarliestOriginal(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	base := clock.Now().UTC()

	hash := testutil.SHA256Hex([]byte("dup"))
	testutil.Ingest(t, store,
		testutil.Entry("/photos/late.jpg", hash, 3, base.Add(time.Hour)),
		testutil.Entry("/photos/early.jpg", hash, 3, base),
		testutil.Entry("/photos/unique.jpg", testutil.SHA256Hex([]byte("solo")), 5, base),
	)

	grouper := dedup.NewGrouper(store, clock, idgen, dedup.NewNopLogger())
	result, err := grouper.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.GroupsCreated != 1 || result.FilesAttached != 2 {
		t.Errorf("result = %+v, want 1 group, 2 attached", result)
	}

	group, err := store.FindGroupByHash(hash)
	if err != nil || group == nil {
		t.Fatalf("group not created: %v", err)
	}
	if group.Status != dedup.StatusPending {
		t.Errorf("new group status = %s, want pending", group.Status)
	}
	if group.FileCount != 2 || group.TotalSizeBytes != 6 {
		t.Errorf("aggregates = %d files / %d bytes, want 2 / 6", group.FileCount, group.TotalSizeBytes)
	}

	early, _ := store.FindFileByPath("/photos/early.jpg")
	late, _ := store.FindFileByPath("/photos/late.jpg")
	if early.IsDuplicate || early.DuplicateGroupID != group.ID {
		t.Errorf("earliest file should be the provisional original: %+v", early)
	}
	if !late.IsDuplicate {
		t.Error("later file should be marked duplicate")
	}

	unique, _ := store.FindFileByPath("/photos/unique.jpg")
	if unique.DuplicateGroupID != "" {
		t.Errorf("unique file grouped: %q", unique.DuplicateGroupID)
	}
}

func TestGrouper_AttachesNewMembersWithoutReselecting(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	base := clock.Now().UTC()

	hash := testutil.SHA256Hex([]byte("dup"))
	testutil.Ingest(t, store,
		testutil.Entry("/photos/a.jpg", hash, 3, base),
		testutil.Entry("/photos/b.jpg", hash, 3, base.Add(time.Minute)),
	)

	grouper := dedup.NewGrouper(store, clock, idgen, dedup.NewNopLogger())
	if _, err := grouper.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	// A rescan finds a third copy, indexed before the current original.
	testutil.Ingest(t, store,
		testutil.Entry("/photos/0-first.jpg", hash, 3, base.Add(-time.Hour)),
	)
	result, err := grouper.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if result.GroupsUpdated != 1 || result.FilesAttached != 1 {
		t.Errorf("result = %+v, want 1 updated, 1 attached", result)
	}

	// The existing original survives; the newcomer joins as a duplicate
	// even though it sorts earlier.
	a, _ := store.FindFileByPath("/photos/a.jpg")
	newcomer, _ := store.FindFileByPath("/photos/0-first.jpg")
	if a.IsDuplicate {
		t.Error("existing original was demoted by a rescan")
	}
	if !newcomer.IsDuplicate {
		t.Error("attached newcomer should be a duplicate")
	}

	group, _ := store.FindGroupByHash(hash)
	if group.FileCount != 3 || group.TotalSizeBytes != 9 {
		t.Errorf("aggregates = %d files / %d bytes, want 3 / 9", group.FileCount, group.TotalSizeBytes)
	}
}

func TestGrouper_ChangedHashLeavesGroup(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	base := clock.Now().UTC()

	hash := testutil.SHA256Hex([]byte("dup"))
	testutil.Ingest(t, store,
		testutil.Entry("/p/a.jpg", hash, 3, base),
		testutil.Entry("/p/b.jpg", hash, 3, base.Add(time.Minute)),
	)

	grouper := dedup.NewGrouper(store, clock, idgen, dedup.NewNopLogger())
	if _, err := grouper.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	group, _ := store.FindGroupByHash(hash)

	// b.jpg is edited in place and re-ingested with new content.
	testutil.Ingest(t, store,
		testutil.Entry("/p/b.jpg", testutil.SHA256Hex([]byte("edited")), 4, base.Add(time.Hour)),
	)
	if _, err := grouper.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}

	// The group is defined by its content hash; a member that no longer
	// carries it must not stay scorable or deletable.
	members, _ := store.FindFilesByGroup(group.ID)
	if len(members) != 1 || members[0].FilePath != "/p/a.jpg" {
		t.Errorf("members = %+v, want only the unchanged file", members)
	}
	b, _ := store.FindFileByPath("/p/b.jpg")
	if b.DuplicateGroupID != "" || b.IsDuplicate {
		t.Errorf("re-ingested file still carries group state: %+v", b)
	}
}

func TestGrouper_PromotesOnlyWhenNoOriginalLeft(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	base := clock.Now().UTC()

	hash := testutil.SHA256Hex([]byte("dup"))
	testutil.Ingest(t, store,
		testutil.Entry("/photos/a.jpg", hash, 3, base),
		testutil.Entry("/photos/b.jpg", hash, 3, base.Add(time.Minute)),
	)

	grouper := dedup.NewGrouper(store, clock, idgen, dedup.NewNopLogger())
	if _, err := grouper.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	// Hiding the original leaves the group without one.
	a, _ := store.FindFileByPath("/photos/a.jpg")
	if err := store.SetFileHidden(a.ID, true, "blurry"); err != nil {
		t.Fatalf("hiding original: %v", err)
	}

	if _, err := grouper.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}

	b, _ := store.FindFileByPath("/photos/b.jpg")
	if b.IsDuplicate {
		t.Error("surviving member should have been promoted to original")
	}
}
