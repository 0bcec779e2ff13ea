package access

import (
	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS AGGREGATION
// Simple completed/total ratios for the progress bars of the week map and the
// parent dashboard. Counting only - no gating logic lives here.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRatio is a completed/total count with its rounded percentage.
type ProgressRatio struct {
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
	Percent   shared.Percent `json:"percent"`
}

// newRatio counts completions among the given stories.
func newRatio(stories []*curriculum.Story, ledger *progress.Ledger) ProgressRatio {
	completed := 0
	for _, s := range stories {
		if ledger.Completed(s.ID) {
			completed++
		}
	}
	return ProgressRatio{
		Completed: completed,
		Total:     len(stories),
		Percent:   shared.NewPercent(completed, len(stories)),
	}
}

// WeekProgress returns the completion ratio of one week.
func WeekProgress(tree *curriculum.Tree, ledger *progress.Ledger, weekID shared.NodeID) (ProgressRatio, error) {
	stories, err := tree.StoriesOfWeek(weekID)
	if err != nil {
		return ProgressRatio{}, err
	}
	return newRatio(stories, ledger), nil
}

// MonthProgress returns the completion ratio across all weeks of a month.
func MonthProgress(tree *curriculum.Tree, ledger *progress.Ledger, monthID shared.NodeID) (ProgressRatio, error) {
	m, err := tree.Month(monthID)
	if err != nil {
		return ProgressRatio{}, err
	}
	var stories []*curriculum.Story
	for _, w := range m.Weeks {
		stories = append(stories, w.Stories...)
	}
	return newRatio(stories, ledger), nil
}

// BlockProgress returns the completion ratio across all months of a block.
func BlockProgress(tree *curriculum.Tree, ledger *progress.Ledger, blockID shared.NodeID) (ProgressRatio, error) {
	b, err := tree.Block(blockID)
	if err != nil {
		return ProgressRatio{}, err
	}
	var stories []*curriculum.Story
	for _, m := range b.Months {
		for _, w := range m.Weeks {
			stories = append(stories, w.Stories...)
		}
	}
	return newRatio(stories, ledger), nil
}

// OverallProgress returns the completion ratio across the whole curriculum.
func OverallProgress(tree *curriculum.Tree, ledger *progress.Ledger) ProgressRatio {
	var stories []*curriculum.Story
	for _, w := range tree.WeeksInOrder() {
		stories = append(stories, w.Stories...)
	}
	return newRatio(stories, ledger)
}
