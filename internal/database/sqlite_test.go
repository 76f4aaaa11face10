package database_test

import (
	"context"
	"testing"
	"time"

	"dedup-go/internal/dedup"
	"dedup-go/internal/testutil"
)

func TestStore_ScanDirectories(t *testing.T) {
	store, _, _ := testutil.NewTestStore(t)

	dir, err := store.CreateScanDirectory("/photos", true)
	if err != nil {
		t.Fatalf("CreateScanDirectory: %v", err)
	}
	if dir.ID == "" || !dir.Recursive || !dir.Enabled {
		t.Errorf("directory = %+v", dir)
	}

	// Registering a known path returns the existing record.
	again, err := store.CreateScanDirectory("/photos", false)
	if err != nil {
		t.Fatalf("second CreateScanDirectory: %v", err)
	}
	if again.ID != dir.ID {
		t.Errorf("duplicate registration created a new record: %s vs %s", again.ID, dir.ID)
	}

	if _, err := store.CreateScanDirectory("/backup", false); err != nil {
		t.Fatalf("CreateScanDirectory: %v", err)
	}

	all, err := store.ListScanDirectories(false)
	if err != nil {
		t.Fatalf("ListScanDirectories: %v", err)
	}
	if len(all) != 2 || all[0].Path != "/backup" || all[1].Path != "/photos" {
		t.Errorf("listing = %+v, want path order", all)
	}

	if err := store.SetScanDirectoryEnabled(dir.ID, false); err != nil {
		t.Fatalf("SetScanDirectoryEnabled: %v", err)
	}
	enabled, err := store.ListScanDirectories(true)
	if err != nil {
		t.Fatalf("ListScanDirectories(enabled): %v", err)
	}
	if len(enabled) != 1 || enabled[0].Path != "/backup" {
		t.Errorf("enabled listing = %+v", enabled)
	}

	if err := store.SetScanDirectoryEnabled("no-such-id", false); err == nil {
		t.Error("toggling an unknown directory should fail")
	}
}

func TestStore_SaveBatchUpserts(t *testing.T) {
	store, clock, _ := testutil.NewTestStore(t)
	at := clock.Now().UTC()

	testutil.Ingest(t, store, testutil.Entry("/photos/a.jpg", "hash-v1", 10, at))

	// A prior failure is wiped by a successful re-ingest.
	if err := store.MarkFileFailed("/photos/a.jpg", "io_error"); err != nil {
		t.Fatalf("MarkFileFailed: %v", err)
	}

	later := at.Add(time.Hour)
	testutil.Ingest(t, store, testutil.Entry("/photos/a.jpg", "hash-v2", 12, later))

	f, err := store.FindFileByPath("/photos/a.jpg")
	if err != nil || f == nil {
		t.Fatalf("FindFileByPath: %v", err)
	}
	if f.ContentHash != "hash-v2" || f.SizeBytes != 12 {
		t.Errorf("file = %+v, want the re-ingested values", f)
	}
	if f.LastError != "" || f.RetryCount != 0 {
		t.Errorf("failure state survived re-ingest: %q / %d", f.LastError, f.RetryCount)
	}
	if !f.IndexedAt.Equal(later) {
		t.Errorf("IndexedAt = %v, want %v", f.IndexedAt, later)
	}
}

func TestStore_SaveBatchRejectsIncompleteEntries(t *testing.T) {
	store, clock, _ := testutil.NewTestStore(t)
	at := clock.Now().UTC()

	result, err := store.SaveBatch(context.Background(), []dedup.IngestEntry{
		testutil.Entry("/photos/ok.jpg", "hash", 1, at),
		{FilePath: "/photos/nohash.jpg", FileName: "nohash.jpg"},
		{ContentHash: "hash-but-no-path"},
	})
	if err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 2 {
		t.Errorf("result = %+v, want 1 ok / 2 failed", result)
	}
	if len(result.Errors) != 2 {
		t.Errorf("errors = %+v", result.Errors)
	}
}

func TestStore_FilterNeedsReindex(t *testing.T) {
	store, clock, _ := testutil.NewTestStore(t)
	at := clock.Now().UTC()

	testutil.Ingest(t, store,
		testutil.Entry("/photos/same.jpg", "h1", 1, at),
		testutil.Entry("/photos/touched.jpg", "h2", 1, at),
	)

	// Equal mtime is current; only a strictly newer mtime or an unknown
	// path is stale.
	stale, err := store.FilterNeedsReindex(context.Background(), []dedup.PathStamp{
		{Path: "/photos/same.jpg", ModifiedAt: at},
		{Path: "/photos/touched.jpg", ModifiedAt: at.Add(time.Second)},
		{Path: "/photos/new.jpg", ModifiedAt: at},
	})
	if err != nil {
		t.Fatalf("FilterNeedsReindex: %v", err)
	}

	want := map[string]bool{"/photos/touched.jpg": true, "/photos/new.jpg": true}
	if len(stale) != len(want) {
		t.Fatalf("stale = %v, want %v", stale, want)
	}
	for _, p := range stale {
		if !want[p] {
			t.Errorf("unexpected stale path %s", p)
		}
	}
}

func TestStore_FilterNeedsReindexRetriesFailedFiles(t *testing.T) {
	store, clock, _ := testutil.NewTestStore(t)
	at := clock.Now().UTC()

	// Never indexed: hashing failed on first contact, so the stub row's
	// indexed_at postdates the file's mtime.
	if err := store.MarkFileFailed("/photos/new.jpg", "io_error"); err != nil {
		t.Fatalf("MarkFileFailed: %v", err)
	}

	// Indexed once, then a later ingest failed.
	testutil.Ingest(t, store, testutil.Entry("/photos/old.jpg", "h", 1, at))
	if err := store.MarkFileFailed("/photos/old.jpg", "exif_error"); err != nil {
		t.Fatalf("MarkFileFailed: %v", err)
	}

	// Both must come back stale even with mtimes older than the rows,
	// or a failed file would never be retried.
	stale, err := store.FilterNeedsReindex(context.Background(), []dedup.PathStamp{
		{Path: "/photos/new.jpg", ModifiedAt: at.Add(-time.Hour)},
		{Path: "/photos/old.jpg", ModifiedAt: at.Add(-time.Hour)},
	})
	if err != nil {
		t.Fatalf("FilterNeedsReindex: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("stale = %v, want both failed files eligible for retry", stale)
	}

	// A successful re-ingest clears the failure and the file goes quiet.
	testutil.Ingest(t, store, testutil.Entry("/photos/old.jpg", "h", 1, at))
	stale, err = store.FilterNeedsReindex(context.Background(), []dedup.PathStamp{
		{Path: "/photos/old.jpg", ModifiedAt: at},
	})
	if err != nil {
		t.Fatalf("FilterNeedsReindex after re-ingest: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("stale = %v, want none after a clean re-ingest", stale)
	}
}

func TestStore_SaveBatchHashChangeDetachesFromGroup(t *testing.T) {
	store, clock, _ := testutil.NewTestStore(t)
	at := clock.Now().UTC()

	testutil.Ingest(t, store, testutil.Entry("/photos/a.jpg", "hash-v1", 10, at))
	f, _ := store.FindFileByPath("/photos/a.jpg")
	if err := store.AssignFileToGroup(f.ID, "group-1", true); err != nil {
		t.Fatalf("AssignFileToGroup: %v", err)
	}

	// Re-ingest with the same hash keeps the membership.
	testutil.Ingest(t, store, testutil.Entry("/photos/a.jpg", "hash-v1", 10, at.Add(time.Hour)))
	f, _ = store.FindFileByPath("/photos/a.jpg")
	if f.DuplicateGroupID != "group-1" || !f.IsDuplicate {
		t.Errorf("unchanged hash lost group state: %+v", f)
	}

	// Re-ingest with new content: the file no longer shares the group's
	// hash and must leave it.
	testutil.Ingest(t, store, testutil.Entry("/photos/a.jpg", "hash-v2", 12, at.Add(2*time.Hour)))
	f, _ = store.FindFileByPath("/photos/a.jpg")
	if f.DuplicateGroupID != "" || f.IsDuplicate {
		t.Errorf("changed hash kept group state: %+v", f)
	}
}

func TestStore_MarkFileFailedCreatesStub(t *testing.T) {
	store, _, _ := testutil.NewTestStore(t)

	if err := store.MarkFileFailed("/photos/broken.jpg", "permission_denied"); err != nil {
		t.Fatalf("MarkFileFailed: %v", err)
	}
	f, err := store.FindFileByPath("/photos/broken.jpg")
	if err != nil || f == nil {
		t.Fatalf("stub not created: %v", err)
	}
	if f.LastError != "permission_denied" || f.RetryCount != 1 {
		t.Errorf("stub = %+v", f)
	}

	if err := store.MarkFileFailed("/photos/broken.jpg", "io_error"); err != nil {
		t.Fatalf("second MarkFileFailed: %v", err)
	}
	f, _ = store.FindFileByPath("/photos/broken.jpg")
	if f.LastError != "io_error" || f.RetryCount != 2 {
		t.Errorf("after second failure = %q / %d", f.LastError, f.RetryCount)
	}
}

func TestStore_HideAndDuplicateFlags(t *testing.T) {
	store, clock, _ := testutil.NewTestStore(t)
	testutil.Ingest(t, store, testutil.Entry("/photos/a.jpg", "h", 1, clock.Now().UTC()))
	f, _ := store.FindFileByPath("/photos/a.jpg")

	if err := store.SetFileHidden(f.ID, true, "blurry"); err != nil {
		t.Fatalf("SetFileHidden: %v", err)
	}
	f, _ = store.FindFileByID(f.ID)
	if !f.IsHidden || f.HiddenReason != "blurry" {
		t.Errorf("file = %+v", f)
	}

	if err := store.SetFileHidden(f.ID, false, ""); err != nil {
		t.Fatalf("unhide: %v", err)
	}
	f, _ = store.FindFileByID(f.ID)
	if f.IsHidden || f.HiddenReason != "" {
		t.Errorf("unhide left %+v", f)
	}

	if err := store.SetFileDuplicate(f.ID, true); err != nil {
		t.Fatalf("SetFileDuplicate: %v", err)
	}
	f, _ = store.FindFileByID(f.ID)
	if !f.IsDuplicate {
		t.Error("duplicate flag not set")
	}

	if err := store.SetFileHidden("no-such-id", true, ""); err == nil {
		t.Error("hiding an unknown file should fail")
	}
}

func TestStore_DuplicateHashesAndGroups(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	at := clock.Now().UTC()

	testutil.Ingest(t, store,
		testutil.Entry("/p/a1.jpg", "dup-hash", 1, at),
		testutil.Entry("/p/a2.jpg", "dup-hash", 1, at.Add(time.Minute)),
		testutil.Entry("/p/solo.jpg", "solo-hash", 1, at),
	)

	hashes, err := store.FindDuplicateHashes(context.Background())
	if err != nil {
		t.Fatalf("FindDuplicateHashes: %v", err)
	}
	if len(hashes) != 1 || hashes[0].ContentHash != "dup-hash" || hashes[0].FileCount != 2 {
		t.Errorf("hashes = %+v", hashes)
	}

	group := &dedup.DuplicateGroup{
		ID:          idgen.New(),
		ContentHash: "dup-hash",
		FileCount:   2,
		Status:      dedup.StatusPending,
		CreatedAt:   at,
	}
	if err := store.CreateGroup(group); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	byHash, _ := store.FindGroupByHash("dup-hash")
	byID, _ := store.FindGroupByID(group.ID)
	if byHash == nil || byID == nil || byHash.ID != group.ID {
		t.Fatalf("group lookups: byHash=%+v byID=%+v", byHash, byID)
	}
	if missing, _ := store.FindGroupByHash("nope"); missing != nil {
		t.Errorf("FindGroupByHash(nope) = %+v, want nil", missing)
	}

	files, _ := store.FindFilesByHash("dup-hash")
	if len(files) != 2 || files[0].FilePath != "/p/a1.jpg" {
		t.Errorf("files by hash = %+v, want indexed-at order", files)
	}

	for _, f := range files {
		if err := store.AssignFileToGroup(f.ID, group.ID, f.FilePath != "/p/a1.jpg"); err != nil {
			t.Fatalf("AssignFileToGroup: %v", err)
		}
	}
	members, _ := store.FindFilesByGroup(group.ID)
	if len(members) != 2 {
		t.Fatalf("members = %+v", members)
	}

	validated := at.Add(time.Hour)
	group.Status = dedup.StatusValidated
	group.KeptFileID = files[0].ID
	group.ValidatedAt = &validated
	if err := store.UpdateGroup(group); err != nil {
		t.Fatalf("UpdateGroup: %v", err)
	}
	got, _ := store.FindGroupByID(group.ID)
	if got.Status != dedup.StatusValidated || got.KeptFileID != files[0].ID {
		t.Errorf("updated group = %+v", got)
	}
	if got.ValidatedAt == nil || !got.ValidatedAt.Equal(validated) {
		t.Errorf("ValidatedAt = %v", got.ValidatedAt)
	}

	listed, err := store.ListGroupsByStatus(dedup.StatusValidated, dedup.StatusPending)
	if err != nil {
		t.Fatalf("ListGroupsByStatus: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != group.ID {
		t.Errorf("listed = %+v", listed)
	}
	if none, _ := store.ListGroupsByStatus(dedup.StatusCleaned); len(none) != 0 {
		t.Errorf("cleaned listing = %+v, want empty", none)
	}
}

func TestStore_CleanupJobs(t *testing.T) {
	store, clock, idgen := testutil.NewTestStore(t)
	at := clock.Now().UTC()

	job := &dedup.CleanupJob{
		ID:        idgen.New(),
		GroupID:   "group-1",
		Category:  dedup.CategoryHashDuplicate,
		Status:    dedup.JobPending,
		CreatedAt: at,
	}
	files := []*dedup.CleanupJobFile{
		{JobID: job.ID, FileID: "f2", FilePath: "/p/b.jpg", FileHash: "h", SizeBytes: 2, Position: 1, Status: dedup.JobFilePending},
		{JobID: job.ID, FileID: "f1", FilePath: "/p/a.jpg", FileHash: "h", SizeBytes: 1, Position: 0, Status: dedup.JobFilePending},
	}
	if err := store.CreateCleanupJob(job, files); err != nil {
		t.Fatalf("CreateCleanupJob: %v", err)
	}

	got, err := store.FindCleanupJob(job.ID)
	if err != nil || got == nil {
		t.Fatalf("FindCleanupJob: %v", err)
	}
	if got.Status != dedup.JobPending || got.Category != dedup.CategoryHashDuplicate {
		t.Errorf("job = %+v", got)
	}

	ordered, err := store.FindJobFiles(job.ID)
	if err != nil {
		t.Fatalf("FindJobFiles: %v", err)
	}
	if len(ordered) != 2 || ordered[0].FileID != "f1" || ordered[1].FileID != "f2" {
		t.Errorf("files = %+v, want position order", ordered)
	}

	if err := store.UpdateJobFileStatus(job.ID, "f1", dedup.JobFileFailed, dedup.OutcomeFileChanged); err != nil {
		t.Fatalf("UpdateJobFileStatus: %v", err)
	}
	ordered, _ = store.FindJobFiles(job.ID)
	if ordered[0].Status != dedup.JobFileFailed || ordered[0].ErrorKind != dedup.OutcomeFileChanged {
		t.Errorf("file entry = %+v", ordered[0])
	}

	started := at.Add(time.Minute)
	finished := at.Add(2 * time.Minute)
	job.Status = dedup.JobFailed
	job.StartedAt = &started
	job.FinishedAt = &finished
	if err := store.UpdateCleanupJob(job); err != nil {
		t.Fatalf("UpdateCleanupJob: %v", err)
	}
	got, _ = store.FindCleanupJob(job.ID)
	if got.Status != dedup.JobFailed || got.StartedAt == nil || got.FinishedAt == nil {
		t.Errorf("finished job = %+v", got)
	}
}

func TestStore_ScanCycles(t *testing.T) {
	store, _, _ := testutil.NewTestStore(t)

	first, err := store.CreateScanCycle("scan")
	if err != nil {
		t.Fatalf("CreateScanCycle: %v", err)
	}
	second, err := store.CreateScanCycle("sweep")
	if err != nil {
		t.Fatalf("second CreateScanCycle: %v", err)
	}

	if err := store.FinishScanCycle(first.ID, "success", 10, 8, 2); err != nil {
		t.Fatalf("FinishScanCycle: %v", err)
	}

	cycles, err := store.ListScanCycles(0)
	if err != nil {
		t.Fatalf("ListScanCycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("cycles = %+v", cycles)
	}
	// Newest first.
	if cycles[0].ID != second.ID || cycles[1].ID != first.ID {
		t.Errorf("order = %d, %d", cycles[0].ID, cycles[1].ID)
	}
	done := cycles[1]
	if done.Status != "success" || done.Scanned != 10 || done.Ingested != 8 || done.Failed != 2 {
		t.Errorf("finished cycle = %+v", done)
	}
	if done.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if cycles[0].Status != "running" || cycles[0].FinishedAt != nil {
		t.Errorf("open cycle = %+v", cycles[0])
	}
}
