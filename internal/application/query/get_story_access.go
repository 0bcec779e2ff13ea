// Package query contains read operations (CQRS - Queries).
package query

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
// GET STORY ACCESS QUERY
// The single-story guard: the player asks "may this child open this story
// right now". The answer is a full decision, not a boolean, so the client can
// render the countdown or the lock reason without a second request.
// ══════════════════════════════════════════════════════════════════════════════

// GetStoryAccessQuery contains the parameters of the access check.
type GetStoryAccessQuery struct {
	// ChildID is the child profile asking for access.
	ChildID string

	// StoryID is the story being opened.
	StoryID string
}

// Validate checks the query parameters.
func (q *GetStoryAccessQuery) Validate() error {
	if _, err := shared.NewChildID(q.ChildID); err != nil {
		return fmt.Errorf("get_story_access: invalid child_id: %w", err)
	}
	if _, err := shared.NewNodeID(q.StoryID); err != nil {
		return fmt.Errorf("get_story_access: invalid story_id: %w", err)
	}
	return nil
}

// StoryAccessDTO is the access decision for one story.
type StoryAccessDTO struct {
	// ChildID is the evaluated child.
	ChildID string `json:"child_id"`

	// StoryID is the evaluated story.
	StoryID string `json:"story_id"`

	// Title is the story's display title.
	Title string `json:"title"`

	// State is the access state: completed, available, waiting_cooldown,
	// locked_by_prerequisite or locked_by_entitlement.
	State string `json:"state"`

	// Viewable is true when the story content may be rendered.
	Viewable bool `json:"viewable"`

	// Countdown is the remaining cooldown; set only for waiting_cooldown.
	Countdown *access.Countdown `json:"countdown,omitempty"`

	// PrerequisiteID names the blocking story, when one applies.
	PrerequisiteID string `json:"prerequisite_id,omitempty"`

	// AudioAssetKey is the playable asset; populated only when Viewable.
	AudioAssetKey string `json:"audio_asset_key,omitempty"`

	// EvaluatedAt is the server instant the decision was made at.
	EvaluatedAt string `json:"evaluated_at"`
}

// GetStoryAccessHandler handles the GetStoryAccessQuery.
type GetStoryAccessHandler struct {
	curriculum   curriculum.Provider
	progressRepo progress.Repository
	policyReader family.PolicyReader
	evaluator    *access.Evaluator
	clock        shared.Clock
}

// NewGetStoryAccessHandler creates a new GetStoryAccessHandler.
func NewGetStoryAccessHandler(
	curriculumProvider curriculum.Provider,
	progressRepo progress.Repository,
	policyReader family.PolicyReader,
	evaluator *access.Evaluator,
	clock shared.Clock,
) *GetStoryAccessHandler {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &GetStoryAccessHandler{
		curriculum:   curriculumProvider,
		progressRepo: progressRepo,
		policyReader: policyReader,
		evaluator:    evaluator,
		clock:        clock,
	}
}

// Handle executes the story access query.
func (h *GetStoryAccessHandler) Handle(ctx context.Context, q GetStoryAccessQuery) (*StoryAccessDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	childID := shared.ChildID(q.ChildID)
	storyID := shared.NodeID(q.StoryID)
	now := h.clock.Now()

	tree, err := h.curriculum.Current()
	if err != nil {
		return nil, fmt.Errorf("get_story_access: %w", err)
	}

	story, err := tree.Story(storyID)
	if err != nil {
		return nil, err
	}

	entitled, override, err := h.policyReader.PolicyFor(ctx, childID, now)
	if err != nil {
		return nil, fmt.Errorf("get_story_access: %w", err)
	}

	// A ledger read failure surfaces as ErrLedgerUnavailable. The decision
	// is withheld entirely; an unreadable ledger must never look like an
	// open story.
	ledger, err := h.progressRepo.Snapshot(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("get_story_access: %w", err)
	}

	pctx := access.PolicyContext{Entitled: entitled, Override: override, Now: now}
	decision, err := h.evaluator.Decide(tree, ledger, pctx, storyID)
	if err != nil {
		return nil, err
	}

	dto := &StoryAccessDTO{
		ChildID:        q.ChildID,
		StoryID:        q.StoryID,
		Title:          story.Title,
		State:          string(decision.State),
		Viewable:       decision.Viewable(),
		Countdown:      decision.Countdown,
		PrerequisiteID: decision.PrerequisiteID.String(),
		EvaluatedAt:    now.String(),
	}
	if dto.Viewable {
		dto.AudioAssetKey = story.AudioAssetKey
	}
	return dto, nil
}
