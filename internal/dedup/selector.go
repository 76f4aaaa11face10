package dedup

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// PriorityRule maps a path prefix to a priority weight. The longest
// matching prefix wins; an unmatched path scores zero priority.
type PriorityRule struct {
	Prefix string
	Weight float64
}

// SelectionPolicy configures the original selector.
type SelectionPolicy struct {
	PriorityRules     []PriorityRule
	ConflictThreshold float64 // minimum top-two score gap for auto-selection
	DepthCap          int     // path depth normalization cap
	AgeCapDays        int     // file age normalization cap
}

// DefaultSelectionPolicy returns the selector defaults.
func DefaultSelectionPolicy() SelectionPolicy {
	return SelectionPolicy{
		ConflictThreshold: 0.1,
		DepthCap:          10,
		AgeCapDays:        3650,
	}
}

func (p SelectionPolicy) depthCap() int {
	if p.DepthCap <= 0 {
		return 10
	}
	return p.DepthCap
}

func (p SelectionPolicy) ageCapDays() int {
	if p.AgeCapDays <= 0 {
		return 3650
	}
	return p.AgeCapDays
}

// pathPriority returns the weight of the longest matching prefix rule.
func (p SelectionPolicy) pathPriority(path string) float64 {
	best := -1
	weight := 0.0
	for _, r := range p.PriorityRules {
		if strings.HasPrefix(path, r.Prefix) && len(r.Prefix) > best {
			best = len(r.Prefix)
			weight = r.Weight
		}
	}
	return weight
}

// SelectionResult summarizes a bulk selection pass.
type SelectionResult struct {
	Selected  int
	Conflicts int
	Skipped   int
}

// Selector scores duplicate-group members and deterministically picks
// the canonical original, or flags the group as a scoring conflict when
// the top candidates are too close to call.
type Selector struct {
	store  IndexStore
	policy SelectionPolicy
	clock  Clock
	logger Logger
}

// NewSelector creates a Selector.
func NewSelector(store IndexStore, policy SelectionPolicy, clock Clock, logger Logger) *Selector {
	return &Selector{store: store, policy: policy, clock: clock, logger: logger}
}

// Score computes the selection score of a file:
//
//	3.0*pathPriority + 1.0*cappedPathDepth + 1.5*metadataCompleteness
//	  + 1.0*cappedAge - 0.01*pathLength
//
// All components except the length penalty are normalized to [0,1], so
// the score is deterministic for a fixed input set and policy.
func (s *Selector) Score(f *IndexedFile) float64 {
	priority := s.policy.pathPriority(f.FilePath)

	depth := strings.Count(f.FilePath, "/")
	maxDepth := s.policy.depthCap()
	if depth > maxDepth {
		depth = maxDepth
	}
	cappedDepth := float64(depth) / float64(maxDepth)

	completeness := metadataCompleteness(f)

	ageDays := s.clock.Now().UTC().Sub(f.ModifiedAt.UTC()).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	ageCap := float64(s.policy.ageCapDays())
	if ageDays > ageCap {
		ageDays = ageCap
	}
	cappedAge := ageDays / ageCap

	return 3.0*priority + 1.0*cappedDepth + 1.5*completeness + 1.0*cappedAge - 0.01*float64(len(f.FilePath))
}

// metadataCompleteness is the fraction of capture metadata fields
// present: capture time, camera model, pixel dimensions.
func metadataCompleteness(f *IndexedFile) float64 {
	present := 0
	if f.TakenAt != nil {
		present++
	}
	if f.CameraModel != "" {
		present++
	}
	if f.Width > 0 && f.Height > 0 {
		present++
	}
	return float64(present) / 3.0
}

// scoredFile pairs a candidate with its score for ranking.
type scoredFile struct {
	file  *IndexedFile
	score float64
}

// SelectGroup runs original selection for one group. Groups whose
// status is not algorithm-eligible are left untouched and reported as
// an error; validated and later statuses hold decisions the algorithm
// must not reconsider.
func (s *Selector) SelectGroup(ctx context.Context, groupID string) error {
	group, err := s.store.FindGroupByID(groupID)
	if err != nil {
		return fmt.Errorf("loading group: %w", err)
	}
	if group == nil {
		return fmt.Errorf("group not found: %s", groupID)
	}
	if !AlgorithmEligible(group.Status) {
		return fmt.Errorf("group %s is %s and protected from re-selection", groupID, group.Status)
	}
	return s.selectEligible(ctx, group)
}

// SelectAll runs original selection across every algorithm-eligible
// group. Per-group failures are logged and counted; the pass continues.
func (s *Selector) SelectAll(ctx context.Context) (*SelectionResult, error) {
	groups, err := s.store.ListGroupsByStatus(AlgorithmEligibleStatuses()...)
	if err != nil {
		return nil, fmt.Errorf("listing eligible groups: %w", err)
	}

	result := &SelectionResult{}
	for _, group := range groups {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		if err := s.selectEligible(ctx, group); err != nil {
			s.logger.Warn("selection failed", "group", group.ID, "error", err)
			result.Skipped++
			continue
		}
		if group.Status == StatusConflict {
			result.Conflicts++
		} else {
			result.Selected++
		}
	}
	return result, nil
}

func (s *Selector) selectEligible(ctx context.Context, group *DuplicateGroup) error {
	files, err := s.store.FindFilesByGroup(group.ID)
	if err != nil {
		return fmt.Errorf("loading members: %w", err)
	}

	var candidates []scoredFile
	for _, f := range files {
		if f.IsHidden {
			continue
		}
		candidates = append(candidates, scoredFile{file: f, score: s.Score(f)})
	}
	if len(candidates) == 0 {
		// Every member hidden: source behavior is undefined, leave the
		// group untouched.
		return nil
	}

	// Rank descending; ties break on path so repeated runs agree.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].file.FilePath < candidates[j].file.FilePath
	})

	if len(candidates) >= 2 {
		gap := candidates[0].score - candidates[1].score
		if gap < s.policy.ConflictThreshold {
			return s.markConflict(group, gap)
		}
	}

	return s.markSelected(group, candidates)
}

// markConflict flags the group instead of guessing between candidates
// that score too close together. No original is auto-marked.
func (s *Selector) markConflict(group *DuplicateGroup, gap float64) error {
	if group.Status == StatusConflict {
		return nil
	}
	if err := TransitionGroup(group, StatusConflict, s.clock); err != nil {
		return err
	}
	group.KeptFileID = ""
	if err := s.store.UpdateGroup(group); err != nil {
		return fmt.Errorf("persisting conflict: %w", err)
	}
	s.logger.Info("selection conflict", "group", group.ID, "gap", gap)
	return nil
}

// markSelected promotes the top candidate and demotes the rest.
func (s *Selector) markSelected(group *DuplicateGroup, candidates []scoredFile) error {
	top := candidates[0].file

	if err := TransitionGroup(group, StatusAutoSelected, s.clock); err != nil {
		return err
	}

	for _, c := range candidates {
		isDup := c.file.ID != top.ID
		if c.file.IsDuplicate == isDup {
			continue
		}
		if err := s.store.SetFileDuplicate(c.file.ID, isDup); err != nil {
			return fmt.Errorf("updating %s: %w", c.file.FilePath, err)
		}
	}

	group.KeptFileID = top.ID
	if err := s.store.UpdateGroup(group); err != nil {
		return fmt.Errorf("persisting selection: %w", err)
	}

	s.logger.Debug("original selected", "group", group.ID, "kept", top.FilePath)
	return nil
}
