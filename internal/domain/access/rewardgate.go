package access

import (
	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// RewardGate decides whether a week's reward cartoon is unlockable. Like the
// Evaluator it is pure and safe for concurrent use.
type RewardGate struct{}

// NewRewardGate creates a RewardGate.
func NewRewardGate() *RewardGate {
	return &RewardGate{}
}

// Decide returns the reward state of the week: unlocked when every story of
// the week is completed or an override applies, locked with the completion
// percentage otherwise.
//
// A week with zero stories is locked at 0%: "complete all of nothing" is not
// treated as complete, keeping the gate fail-restrictive for malformed
// curriculum data.
func (g *RewardGate) Decide(tree *curriculum.Tree, ledger *progress.Ledger, pctx PolicyContext, weekID shared.NodeID) (RewardDecision, error) {
	stories, err := tree.StoriesOfWeek(weekID)
	if err != nil {
		return RewardDecision{}, err
	}

	completed := 0
	for _, s := range stories {
		if ledger.Completed(s.ID) {
			completed++
		}
	}
	percent := shared.NewPercent(completed, len(stories))

	if pctx.Override {
		return RewardDecision{WeekID: weekID, Unlocked: true, PercentComplete: percent}, nil
	}

	unlocked := len(stories) > 0 && completed == len(stories)
	return RewardDecision{WeekID: weekID, Unlocked: unlocked, PercentComplete: percent}, nil
}
