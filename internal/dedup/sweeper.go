package dedup

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy maps each archive category to its retention window in
// days. A zero or missing entry disables sweeping for that category.
type RetentionPolicy map[Category]int

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	Examined int
	Deleted  int
	Failed   int
	Skipped  int // keys without a parseable month segment
}

// Sweeper permanently purges archived objects older than their
// category's retention window. The deletion date is read from the
// yyyy-MM segment embedded in the object key.
type Sweeper struct {
	archive Archive
	policy  RetentionPolicy
	clock   Clock
	logger  Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(archive Archive, policy RetentionPolicy, clock Clock, logger Logger) *Sweeper {
	return &Sweeper{archive: archive, policy: policy, clock: clock, logger: logger}
}

// Sweep runs one pass over every category. A failed deletion is logged
// and skipped; the sweep continues and reports totals.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	now := s.clock.Now().UTC()

	for _, category := range Categories {
		days := s.policy[category]
		if days <= 0 {
			continue
		}
		if err := s.sweepCategory(ctx, category, now.AddDate(0, 0, -days), result); err != nil {
			return result, err
		}
	}

	s.logger.Info("retention sweep complete",
		"examined", result.Examined,
		"deleted", result.Deleted,
		"failed", result.Failed,
		"skipped", result.Skipped)
	return result, nil
}

func (s *Sweeper) sweepCategory(ctx context.Context, category Category, cutoff time.Time, result *SweepResult) error {
	objects, err := s.archive.List(ctx, string(category)+"/")
	if err != nil {
		return fmt.Errorf("listing %s archive: %w", category, err)
	}

	for _, obj := range objects {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		result.Examined++

		month, err := ParseArchiveKeyMonth(obj.Key)
		if err != nil {
			result.Skipped++
			s.logger.Warn("unparseable archive key skipped", "key", obj.Key, "error", err)
			continue
		}

		// An object is past retention only when its entire month is
		// older than the cutoff.
		monthEnd := month.AddDate(0, 1, 0)
		if monthEnd.After(cutoff) {
			continue
		}

		if err := s.archive.Delete(ctx, obj.Key); err != nil {
			result.Failed++
			s.logger.Warn("retention delete failed", "key", obj.Key, "error", err)
			continue
		}
		result.Deleted++
		s.logger.Debug("archived object purged", "key", obj.Key)
	}
	return nil
}

// RunDaily blocks, running one sweep per day at the given local time
// ("15:04"), until ctx is cancelled.
func (s *Sweeper) RunDaily(ctx context.Context, at string) error {
	sweepTime, err := time.Parse("15:04", at)
	if err != nil {
		return fmt.Errorf("parsing sweep time %q: %w", at, err)
	}

	for {
		now := s.clock.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(),
			sweepTime.Hour(), sweepTime.Minute(), 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next.Sub(now)):
		}

		if _, err := s.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("scheduled sweep failed", "error", err)
		}
	}
}
