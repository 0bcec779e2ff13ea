package access

import (
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// DefaultCooldown is the mandatory wait after completing a story before the
// next one unlocks. Measured from the prerequisite's completion instant,
// never from a day boundary.
const DefaultCooldown = 24 * time.Hour

// Evaluator computes story access decisions. It is a pure function of
// (tree, ledger, policy context, story): it never mutates its inputs, holds
// no timer state, and is safe for concurrent use from any number of
// requests.
type Evaluator struct {
	cooldown time.Duration
}

// NewEvaluator creates an Evaluator with the given cooldown duration.
// A non-positive cooldown falls back to DefaultCooldown.
func NewEvaluator(cooldown time.Duration) *Evaluator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Evaluator{cooldown: cooldown}
}

// Cooldown returns the configured cooldown duration.
func (e *Evaluator) Cooldown() time.Duration {
	return e.cooldown
}

// Decide computes the access state of one story.
//
// Check order, short-circuiting:
//  1. completed - a recorded completion stays Completed under any later
//     policy, so it is checked before everything else;
//  2. override - the administrative bypass opens anything not yet completed;
//  3. entitlement - the paywall gates all structural unlocking: without an
//     active entitlement even a structurally open story is locked;
//  4. prerequisite - resolved via the curriculum's previous-story rule;
//  5. cooldown - measured from the prerequisite's completion instant.
//
// The only error is ErrUnknownNode for an id missing from the tree; it is
// propagated, never converted into a locked decision.
func (e *Evaluator) Decide(tree *curriculum.Tree, ledger *progress.Ledger, pctx PolicyContext, storyID shared.NodeID) (Decision, error) {
	story, err := tree.Story(storyID)
	if err != nil {
		return Decision{}, err
	}

	if ledger.Completed(story.ID) {
		return Decision{StoryID: story.ID, State: StateCompleted}, nil
	}

	if pctx.Override {
		return Decision{StoryID: story.ID, State: StateAvailable}, nil
	}

	if !pctx.Entitled {
		return Decision{StoryID: story.ID, State: StateLockedByEntitlement}, nil
	}

	prev, err := tree.PreviousStory(story)
	if err != nil {
		return Decision{}, err
	}
	if prev == nil {
		return Decision{StoryID: story.ID, State: StateAvailable}, nil
	}

	completedAt, done := ledger.CompletedAt(prev.ID)
	if !done {
		return Decision{
			StoryID:        story.ID,
			State:          StateLockedByPrerequisite,
			PrerequisiteID: prev.ID,
		}, nil
	}

	elapsed := pctx.Now.Sub(completedAt)
	if elapsed >= e.cooldown {
		return Decision{StoryID: story.ID, State: StateAvailable}, nil
	}

	remaining := e.cooldown - elapsed
	if remaining > e.cooldown {
		// Completion instant ahead of now (clock skew between writers);
		// never display more than a full cooldown.
		remaining = e.cooldown
	}
	countdown := NewCountdown(remaining)
	return Decision{
		StoryID:        story.ID,
		State:          StateWaitingCooldown,
		Countdown:      &countdown,
		PrerequisiteID: prev.ID,
	}, nil
}

// DecideWeek evaluates every story of a week in day-slot order. This backs
// the week-map presentation; each story gets the same tree, ledger and
// policy context so the map is a consistent point-in-time view.
func (e *Evaluator) DecideWeek(tree *curriculum.Tree, ledger *progress.Ledger, pctx PolicyContext, weekID shared.NodeID) ([]Decision, error) {
	stories, err := tree.StoriesOfWeek(weekID)
	if err != nil {
		return nil, err
	}

	decisions := make([]Decision, 0, len(stories))
	for _, s := range stories {
		d, err := e.Decide(tree, ledger, pctx, s.ID)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}
