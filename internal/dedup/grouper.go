package dedup

import (
	"context"
	"fmt"
)

// GrouperResult summarizes one grouping pass.
type GrouperResult struct {
	GroupsCreated int
	GroupsUpdated int
	FilesAttached int
}

// Grouper finds content hashes shared by two or more indexed files and
// maintains the duplicate groups for them.
type Grouper struct {
	store  IndexStore
	clock  Clock
	idgen  IDGenerator
	logger Logger
}

// NewGrouper creates a Grouper.
func NewGrouper(store IndexStore, clock Clock, idgen IDGenerator, logger Logger) *Grouper {
	return &Grouper{store: store, clock: clock, idgen: idgen, logger: logger}
}

// Refresh scans the index for duplicated hashes and creates or updates
// a group per hash. For a new group the earliest-indexed non-hidden
// file becomes the provisional original. For an existing group new
// members are attached as duplicates and an original is promoted only
// if the group currently has none. An existing choice is never
// overridden, so incremental rescans cannot undo a review.
func (g *Grouper) Refresh(ctx context.Context) (*GrouperResult, error) {
	hashes, err := g.store.FindDuplicateHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding duplicate hashes: %w", err)
	}

	result := &GrouperResult{}
	for _, h := range hashes {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		if err := g.refreshHash(h.ContentHash, result); err != nil {
			return result, fmt.Errorf("grouping hash %s: %w", h.ContentHash, err)
		}
	}

	g.logger.Info("grouping pass complete",
		"created", result.GroupsCreated,
		"updated", result.GroupsUpdated,
		"attached", result.FilesAttached)
	return result, nil
}

func (g *Grouper) refreshHash(hash string, result *GrouperResult) error {
	files, err := g.store.FindFilesByHash(hash)
	if err != nil {
		return fmt.Errorf("loading files: %w", err)
	}
	if len(files) < 2 {
		return nil
	}

	group, err := g.store.FindGroupByHash(hash)
	if err != nil {
		return fmt.Errorf("loading group: %w", err)
	}

	if group == nil {
		return g.createGroup(hash, files, result)
	}
	return g.updateGroup(group, files, result)
}

// createGroup builds a fresh group from all current matches. Files are
// ordered earliest-indexed first by the store.
func (g *Grouper) createGroup(hash string, files []*IndexedFile, result *GrouperResult) error {
	group := &DuplicateGroup{
		ID:          g.idgen.New(),
		ContentHash: hash,
		Status:      StatusPending,
		CreatedAt:   g.clock.Now().UTC(),
	}
	for _, f := range files {
		group.FileCount++
		group.TotalSizeBytes += f.SizeBytes
	}
	if err := g.store.CreateGroup(group); err != nil {
		return fmt.Errorf("creating group: %w", err)
	}

	original := earliestNonHidden(files)
	for _, f := range files {
		isDup := original == nil || f.ID != original.ID
		if err := g.store.AssignFileToGroup(f.ID, group.ID, isDup); err != nil {
			return fmt.Errorf("attaching %s: %w", f.FilePath, err)
		}
		result.FilesAttached++
	}

	result.GroupsCreated++
	return nil
}

// updateGroup recomputes aggregates, attaches new matches as duplicates
// and promotes an original only when the group has zero non-hidden
// non-duplicate members.
func (g *Grouper) updateGroup(group *DuplicateGroup, files []*IndexedFile, result *GrouperResult) error {
	group.FileCount = 0
	group.TotalSizeBytes = 0
	hasOriginal := false
	for _, f := range files {
		group.FileCount++
		group.TotalSizeBytes += f.SizeBytes
		if !f.IsHidden && !f.IsDuplicate && f.DuplicateGroupID == group.ID {
			hasOriginal = true
		}
	}

	for _, f := range files {
		if f.DuplicateGroupID == group.ID {
			continue
		}
		if err := g.store.AssignFileToGroup(f.ID, group.ID, true); err != nil {
			return fmt.Errorf("attaching %s: %w", f.FilePath, err)
		}
		result.FilesAttached++
	}

	if !hasOriginal {
		if original := earliestNonHidden(files); original != nil {
			if err := g.store.AssignFileToGroup(original.ID, group.ID, false); err != nil {
				return fmt.Errorf("promoting %s: %w", original.FilePath, err)
			}
		}
	}

	if err := g.store.UpdateGroup(group); err != nil {
		return fmt.Errorf("updating aggregates: %w", err)
	}

	result.GroupsUpdated++
	return nil
}

// earliestNonHidden returns the first non-hidden file in indexedAt
// order, or nil when every member is hidden.
func earliestNonHidden(files []*IndexedFile) *IndexedFile {
	for _, f := range files {
		if !f.IsHidden {
			return f
		}
	}
	return nil
}
