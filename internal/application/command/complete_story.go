// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"

	"github.com/fable-hub/fable-story-hub/internal/domain/access"
	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE STORY COMMAND
// Records that a child finished listening to a story. This is the single
// write path of the progression engine: the ledger upsert here is what every
// later access decision and reward check reads.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteStoryCommand contains the data to record a completion.
type CompleteStoryCommand struct {
	// ChildID is the child profile that finished the story.
	ChildID string

	// StoryID is the completed story.
	StoryID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c CompleteStoryCommand) Validate() error {
	if _, err := shared.NewChildID(c.ChildID); err != nil {
		return fmt.Errorf("complete_story: invalid child_id: %w", err)
	}
	if _, err := shared.NewNodeID(c.StoryID); err != nil {
		return fmt.Errorf("complete_story: invalid story_id: %w", err)
	}
	return nil
}

// CompleteStoryResult contains the result of recording a completion.
type CompleteStoryResult struct {
	// ChildID is the child the completion belongs to.
	ChildID string

	// StoryID is the completed story.
	StoryID string

	// FirstCompletion is true when this was the first completion of the
	// story. Replays return false and do not re-fire downstream effects.
	FirstCompletion bool

	// TimestampUpdated is true when a replay refreshed the stored instant
	// (last-write-wins policy only).
	TimestampUpdated bool

	// CompletedAt is the instant now stored in the ledger.
	CompletedAt shared.Instant

	// WeekCompleted is true when this completion finished the story's week.
	WeekCompleted bool

	// RewardUnlocked is true when the week's reward became unlockable.
	RewardUnlocked bool

	// Events contains domain events generated.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompleteStoryHandler handles the CompleteStoryCommand.
type CompleteStoryHandler struct {
	curriculum     curriculum.Provider
	progressRepo   progress.Repository
	policyReader   family.PolicyReader
	evaluator      *access.Evaluator
	rewardGate     *access.RewardGate
	eventPublisher shared.EventPublisher
	clock          shared.Clock
	replayPolicy   progress.ReplayPolicy
}

// NewCompleteStoryHandler creates a new CompleteStoryHandler.
func NewCompleteStoryHandler(
	curriculumProvider curriculum.Provider,
	progressRepo progress.Repository,
	policyReader family.PolicyReader,
	evaluator *access.Evaluator,
	rewardGate *access.RewardGate,
	eventPublisher shared.EventPublisher,
	clock shared.Clock,
	replayPolicy progress.ReplayPolicy,
) *CompleteStoryHandler {
	if clock == nil {
		clock = shared.SystemClock{}
	}

	return &CompleteStoryHandler{
		curriculum:     curriculumProvider,
		progressRepo:   progressRepo,
		policyReader:   policyReader,
		evaluator:      evaluator,
		rewardGate:     rewardGate,
		eventPublisher: eventPublisher,
		clock:          clock,
		replayPolicy:   replayPolicy,
	}
}

// Handle executes the complete story command.
//
// The completion instant is always resolved server-side from the injected
// clock; a client-supplied timestamp would let a skewed device shorten
// cooldowns.
func (h *CompleteStoryHandler) Handle(ctx context.Context, cmd CompleteStoryCommand) (*CompleteStoryResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	childID := shared.ChildID(cmd.ChildID)
	storyID := shared.NodeID(cmd.StoryID)
	now := h.clock.Now()

	tree, err := h.curriculum.Current()
	if err != nil {
		return nil, fmt.Errorf("complete_story: %w", err)
	}

	story, err := tree.Story(storyID)
	if err != nil {
		return nil, err
	}

	// A completion is only accepted for a story the child could actually
	// play. Evaluating before the write keeps a tampering client from
	// recording completions ahead of the unlock chain.
	entitled, override, err := h.policyReader.PolicyFor(ctx, childID, now)
	if err != nil {
		return nil, fmt.Errorf("complete_story: %w", err)
	}

	ledger, err := h.progressRepo.Snapshot(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("complete_story: %w", err)
	}

	pctx := access.PolicyContext{Entitled: entitled, Override: override, Now: now}
	decision, err := h.evaluator.Decide(tree, ledger, pctx, storyID)
	if err != nil {
		return nil, err
	}
	if !decision.Viewable() {
		return nil, fmt.Errorf("complete_story: story %s is %s: %w",
			storyID, decision.State, shared.ErrForbidden)
	}

	// Count remaining stories before the write so we can tell whether this
	// completion closes out the week.
	weekStories, err := tree.StoriesOfWeek(story.WeekID)
	if err != nil {
		return nil, err
	}
	remainingBefore := 0
	for _, s := range weekStories {
		if !ledger.Completed(s.ID) {
			remainingBefore++
		}
	}

	outcome, err := h.progressRepo.RecordCompletion(ctx, childID, storyID, now, h.replayPolicy)
	if err != nil {
		return nil, fmt.Errorf("complete_story: %w", err)
	}

	result := &CompleteStoryResult{
		ChildID:          cmd.ChildID,
		StoryID:          cmd.StoryID,
		FirstCompletion:  outcome.Created,
		TimestampUpdated: outcome.TimestampUpdated,
		CompletedAt:      outcome.RecordedAt,
		Events:           make([]shared.Event, 0, 3),
	}

	if outcome.Created {
		event := shared.NewStoryCompletedEvent(
			cmd.ChildID, cmd.StoryID, story.WeekID.String(), outcome.RecordedAt.Time())
		if cmd.CorrelationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		result.Events = append(result.Events, event)

		// First completion of the last remaining story closes the week.
		if remainingBefore == 1 {
			result.WeekCompleted = true
			weekEvent := shared.WeekCompletedEvent{
				BaseEvent: shared.NewBaseEvent(shared.EventWeekCompleted, cmd.ChildID),
				ChildID:   cmd.ChildID,
				WeekID:    story.WeekID.String(),
				Stories:   len(weekStories),
			}
			result.Events = append(result.Events, weekEvent)

			// Re-read the ledger so the reward decision sees the write.
			fresh, err := h.progressRepo.Snapshot(ctx, childID)
			if err != nil {
				return nil, fmt.Errorf("complete_story: %w", err)
			}
			reward, err := h.rewardGate.Decide(tree, fresh, pctx, story.WeekID)
			if err != nil {
				return nil, err
			}
			if reward.Unlocked {
				result.RewardUnlocked = true
				rewardEvent := shared.RewardUnlockedEvent{
					BaseEvent:  shared.NewBaseEvent(shared.EventRewardUnlocked, cmd.ChildID),
					ChildID:    cmd.ChildID,
					WeekID:     story.WeekID.String(),
					ByOverride: override,
				}
				result.Events = append(result.Events, rewardEvent)
			}
		}
	} else {
		replayEvent := shared.CompletionReplayEvent{
			BaseEvent:        shared.NewBaseEvent(shared.EventCompletionReplay, cmd.ChildID),
			ChildID:          cmd.ChildID,
			StoryID:          cmd.StoryID,
			PreviousInstant:  outcome.PreviousAt.Time(),
			RecordedInstant:  outcome.RecordedAt.Time(),
			TimestampUpdated: outcome.TimestampUpdated,
		}
		result.Events = append(result.Events, replayEvent)
	}

	for _, event := range result.Events {
		_ = h.eventPublisher.Publish(event)
	}

	return result, nil
}
