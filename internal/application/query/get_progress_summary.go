package query

import (
	"context"
	"fmt"

	"github.com/fable-hub/fable-story-hub/internal/domain/access"
	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS SUMMARY QUERY
// The parent dashboard view: completion ratios per block, month and week plus
// the overall number. Pure counting over the ledger; no gating state here.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressSummaryQuery contains the parameters of the summary request.
type GetProgressSummaryQuery struct {
	// ChildID is the child whose progress is summarized.
	ChildID string
}

// Validate checks the query parameters.
func (q *GetProgressSummaryQuery) Validate() error {
	if _, err := shared.NewChildID(q.ChildID); err != nil {
		return fmt.Errorf("get_progress_summary: invalid child_id: %w", err)
	}
	return nil
}

// WeekSummaryDTO is one week row in the dashboard.
type WeekSummaryDTO struct {
	WeekID   string               `json:"week_id"`
	Title    string               `json:"title"`
	Progress access.ProgressRatio `json:"progress"`
}

// MonthSummaryDTO is one month section in the dashboard.
type MonthSummaryDTO struct {
	MonthID  string               `json:"month_id"`
	Title    string               `json:"title"`
	Progress access.ProgressRatio `json:"progress"`
	Weeks    []WeekSummaryDTO     `json:"weeks"`
}

// BlockSummaryDTO is one block section in the dashboard.
type BlockSummaryDTO struct {
	BlockID  string               `json:"block_id"`
	Title    string               `json:"title"`
	Progress access.ProgressRatio `json:"progress"`
	Months   []MonthSummaryDTO    `json:"months"`
}

// ProgressSummaryDTO is the full dashboard payload.
type ProgressSummaryDTO struct {
	// ChildID is the summarized child.
	ChildID string `json:"child_id"`

	// CurriculumVersion tags which published tree the counts are against.
	CurriculumVersion string `json:"curriculum_version"`

	// Overall is the whole-curriculum ratio.
	Overall access.ProgressRatio `json:"overall"`

	// Blocks are the per-block breakdowns in curriculum order.
	Blocks []BlockSummaryDTO `json:"blocks"`

	// StoriesCompleted is the raw count of ledger entries.
	StoriesCompleted int `json:"stories_completed"`

	// EvaluatedAt is the server instant of the snapshot.
	EvaluatedAt string `json:"evaluated_at"`
}

// GetProgressSummaryHandler handles the GetProgressSummaryQuery.
type GetProgressSummaryHandler struct {
	curriculum   curriculum.Provider
	progressRepo progress.Repository
	clock        shared.Clock
}

// NewGetProgressSummaryHandler creates a new GetProgressSummaryHandler.
func NewGetProgressSummaryHandler(
	curriculumProvider curriculum.Provider,
	progressRepo progress.Repository,
	clock shared.Clock,
) *GetProgressSummaryHandler {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &GetProgressSummaryHandler{
		curriculum:   curriculumProvider,
		progressRepo: progressRepo,
		clock:        clock,
	}
}

// Handle executes the progress summary query.
func (h *GetProgressSummaryHandler) Handle(ctx context.Context, q GetProgressSummaryQuery) (*ProgressSummaryDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	childID := shared.ChildID(q.ChildID)
	now := h.clock.Now()

	tree, err := h.curriculum.Current()
	if err != nil {
		return nil, fmt.Errorf("get_progress_summary: %w", err)
	}

	ledger, err := h.progressRepo.Snapshot(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("get_progress_summary: %w", err)
	}

	blocks := make([]BlockSummaryDTO, 0, len(tree.Blocks()))
	for _, b := range tree.Blocks() {
		blockRatio, err := access.BlockProgress(tree, ledger, b.ID)
		if err != nil {
			return nil, err
		}

		months := make([]MonthSummaryDTO, 0, len(b.Months))
		for _, m := range b.Months {
			monthRatio, err := access.MonthProgress(tree, ledger, m.ID)
			if err != nil {
				return nil, err
			}

			weeks := make([]WeekSummaryDTO, 0, len(m.Weeks))
			for _, w := range m.Weeks {
				weekRatio, err := access.WeekProgress(tree, ledger, w.ID)
				if err != nil {
					return nil, err
				}
				weeks = append(weeks, WeekSummaryDTO{
					WeekID:   w.ID.String(),
					Title:    w.Title,
					Progress: weekRatio,
				})
			}

			months = append(months, MonthSummaryDTO{
				MonthID:  m.ID.String(),
				Title:    m.Title,
				Progress: monthRatio,
				Weeks:    weeks,
			})
		}

		blocks = append(blocks, BlockSummaryDTO{
			BlockID:  b.ID.String(),
			Title:    b.Title,
			Progress: blockRatio,
			Months:   months,
		})
	}

	return &ProgressSummaryDTO{
		ChildID:           q.ChildID,
		CurriculumVersion: tree.Version(),
		Overall:           access.OverallProgress(tree, ledger),
		Blocks:            blocks,
		StoriesCompleted:  ledger.Size(),
		EvaluatedAt:       now.String(),
	}, nil
}
