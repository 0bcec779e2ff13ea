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
// GET WEEK MAP QUERY
// The curriculum browser view for one week: a decision per story, the reward
// state, and the week's progress bar. Everything the map screen renders comes
// from this single query, evaluated at one server instant so the stories on
// screen never disagree with each other.
// ══════════════════════════════════════════════════════════════════════════════

// GetWeekMapQuery contains the parameters of the week map request.
type GetWeekMapQuery struct {
	// ChildID is the child profile viewing the map.
	ChildID string

	// WeekID is the week being rendered.
	WeekID string
}

// Validate checks the query parameters.
func (q *GetWeekMapQuery) Validate() error {
	if _, err := shared.NewChildID(q.ChildID); err != nil {
		return fmt.Errorf("get_week_map: invalid child_id: %w", err)
	}
	if _, err := shared.NewNodeID(q.WeekID); err != nil {
		return fmt.Errorf("get_week_map: invalid week_id: %w", err)
	}
	return nil
}

// WeekMapStoryDTO is one story card on the map.
type WeekMapStoryDTO struct {
	// StoryID identifies the story.
	StoryID string `json:"story_id"`

	// Title is the display title.
	Title string `json:"title"`

	// DaySlot is the story's day within the week (1, 3 or 5).
	DaySlot int `json:"day_slot"`

	// State is the access state of the card.
	State string `json:"state"`

	// Viewable is true when tapping the card opens the story.
	Viewable bool `json:"viewable"`

	// Countdown is the remaining cooldown; set only for waiting_cooldown.
	Countdown *access.Countdown `json:"countdown,omitempty"`

	// PrerequisiteID names the blocking story, when one applies.
	PrerequisiteID string `json:"prerequisite_id,omitempty"`
}

// WeekRewardDTO is the reward cartoon tile.
type WeekRewardDTO struct {
	// Unlocked is true when the reward may be played.
	Unlocked bool `json:"unlocked"`

	// PercentComplete is the week's completion percentage (0-100).
	PercentComplete int `json:"percent_complete"`

	// RewardAssetKey is the playable asset; populated only when Unlocked.
	RewardAssetKey string `json:"reward_asset_key,omitempty"`
}

// WeekMapDTO is the full week map.
type WeekMapDTO struct {
	// ChildID is the evaluated child.
	ChildID string `json:"child_id"`

	// WeekID identifies the week.
	WeekID string `json:"week_id"`

	// Title is the week's display title.
	Title string `json:"title"`

	// Stories are the story cards in day order.
	Stories []WeekMapStoryDTO `json:"stories"`

	// Reward is the reward tile state.
	Reward WeekRewardDTO `json:"reward"`

	// Progress is the week's completion ratio for the progress bar.
	Progress access.ProgressRatio `json:"progress"`

	// EvaluatedAt is the server instant the map was evaluated at.
	EvaluatedAt string `json:"evaluated_at"`
}

// GetWeekMapHandler handles the GetWeekMapQuery.
type GetWeekMapHandler struct {
	curriculum   curriculum.Provider
	progressRepo progress.Repository
	policyReader family.PolicyReader
	evaluator    *access.Evaluator
	rewardGate   *access.RewardGate
	clock        shared.Clock
}

// NewGetWeekMapHandler creates a new GetWeekMapHandler.
func NewGetWeekMapHandler(
	curriculumProvider curriculum.Provider,
	progressRepo progress.Repository,
	policyReader family.PolicyReader,
	evaluator *access.Evaluator,
	rewardGate *access.RewardGate,
	clock shared.Clock,
) *GetWeekMapHandler {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &GetWeekMapHandler{
		curriculum:   curriculumProvider,
		progressRepo: progressRepo,
		policyReader: policyReader,
		evaluator:    evaluator,
		rewardGate:   rewardGate,
		clock:        clock,
	}
}

// Handle executes the week map query.
func (h *GetWeekMapHandler) Handle(ctx context.Context, q GetWeekMapQuery) (*WeekMapDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	childID := shared.ChildID(q.ChildID)
	weekID := shared.NodeID(q.WeekID)
	now := h.clock.Now()

	tree, err := h.curriculum.Current()
	if err != nil {
		return nil, fmt.Errorf("get_week_map: %w", err)
	}

	week, err := tree.Week(weekID)
	if err != nil {
		return nil, err
	}

	entitled, override, err := h.policyReader.PolicyFor(ctx, childID, now)
	if err != nil {
		return nil, fmt.Errorf("get_week_map: %w", err)
	}

	ledger, err := h.progressRepo.Snapshot(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("get_week_map: %w", err)
	}

	pctx := access.PolicyContext{Entitled: entitled, Override: override, Now: now}

	decisions, err := h.evaluator.DecideWeek(tree, ledger, pctx, weekID)
	if err != nil {
		return nil, err
	}

	stories, err := tree.StoriesOfWeek(weekID)
	if err != nil {
		return nil, err
	}

	cards := make([]WeekMapStoryDTO, 0, len(stories))
	for i, story := range stories {
		d := decisions[i]
		cards = append(cards, WeekMapStoryDTO{
			StoryID:        story.ID.String(),
			Title:          story.Title,
			DaySlot:        story.DaySlot,
			State:          string(d.State),
			Viewable:       d.Viewable(),
			Countdown:      d.Countdown,
			PrerequisiteID: d.PrerequisiteID.String(),
		})
	}

	reward, err := h.rewardGate.Decide(tree, ledger, pctx, weekID)
	if err != nil {
		return nil, err
	}
	rewardDTO := WeekRewardDTO{
		Unlocked:        reward.Unlocked,
		PercentComplete: reward.PercentComplete.Int(),
	}
	if reward.Unlocked {
		rewardDTO.RewardAssetKey = week.RewardAssetKey
	}

	ratio, err := access.WeekProgress(tree, ledger, weekID)
	if err != nil {
		return nil, err
	}

	return &WeekMapDTO{
		ChildID:     q.ChildID,
		WeekID:      q.WeekID,
		Title:       week.Title,
		Stories:     cards,
		Reward:      rewardDTO,
		Progress:    ratio,
		EvaluatedAt: now.String(),
	}, nil
}
