package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CurriculumRepository implements curriculum.Repository for PostgreSQL.
// Curriculum rows are versioned: each published snapshot lives under its own
// version key and at most one version is flagged published at a time.
type CurriculumRepository struct {
	conn *Connection
}

// NewCurriculumRepository creates a new CurriculumRepository.
func NewCurriculumRepository(conn *Connection) *CurriculumRepository {
	return &CurriculumRepository{conn: conn}
}

// PublishedVersion returns the version string of the currently published
// snapshot without loading the tree.
func (r *CurriculumRepository) PublishedVersion(ctx context.Context) (string, error) {
	var version string
	err := r.conn.QueryRow(ctx, `
		SELECT version FROM curriculum_versions WHERE is_published
	`).Scan(&version)
	if err != nil {
		if IsNoRows(err) {
			return "", shared.ErrCurriculumEmpty
		}
		return "", fmt.Errorf("query published version: %w", err)
	}
	return version, nil
}

// LoadPublished assembles the published snapshot into a validated tree.
// The four node queries run outside a transaction; the published version is
// immutable once flagged, so the reads cannot see a torn snapshot.
func (r *CurriculumRepository) LoadPublished(ctx context.Context) (*curriculum.Tree, error) {
	var version string
	var publishedAt time.Time
	err := r.conn.QueryRow(ctx, `
		SELECT version, published_at FROM curriculum_versions WHERE is_published
	`).Scan(&version, &publishedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCurriculumEmpty
		}
		return nil, fmt.Errorf("query published version: %w", err)
	}

	blocks, err := r.loadBlocks(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("load curriculum %s: %w", version, err)
	}

	return curriculum.NewTree(blocks, version, publishedAt)
}

func (r *CurriculumRepository) loadBlocks(ctx context.Context, version string) ([]*curriculum.Block, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, title, order_idx
		FROM curriculum_blocks
		WHERE version = $1
		ORDER BY order_idx
	`, version)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*curriculum.Block
	index := make(map[shared.NodeID]*curriculum.Block)
	for rows.Next() {
		b := &curriculum.Block{}
		var id string
		if err := rows.Scan(&id, &b.Title, &b.Order); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.ID = shared.NodeID(id)
		blocks = append(blocks, b)
		index[b.ID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	months, err := r.loadMonths(ctx, version)
	if err != nil {
		return nil, err
	}
	for _, m := range months {
		parent, ok := index[m.BlockID]
		if !ok {
			return nil, fmt.Errorf("month %s references unknown block %s", m.ID, m.BlockID)
		}
		parent.Months = append(parent.Months, m)
	}
	return blocks, nil
}

func (r *CurriculumRepository) loadMonths(ctx context.Context, version string) ([]*curriculum.Month, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, title, order_idx, block_id
		FROM curriculum_months
		WHERE version = $1
		ORDER BY order_idx
	`, version)
	if err != nil {
		return nil, fmt.Errorf("query months: %w", err)
	}
	defer rows.Close()

	var months []*curriculum.Month
	index := make(map[shared.NodeID]*curriculum.Month)
	for rows.Next() {
		m := &curriculum.Month{}
		var id, blockID string
		if err := rows.Scan(&id, &m.Title, &m.Order, &blockID); err != nil {
			return nil, fmt.Errorf("scan month: %w", err)
		}
		m.ID = shared.NodeID(id)
		m.BlockID = shared.NodeID(blockID)
		months = append(months, m)
		index[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	weeks, err := r.loadWeeks(ctx, version)
	if err != nil {
		return nil, err
	}
	for _, w := range weeks {
		parent, ok := index[w.MonthID]
		if !ok {
			return nil, fmt.Errorf("week %s references unknown month %s", w.ID, w.MonthID)
		}
		parent.Weeks = append(parent.Weeks, w)
	}
	return months, nil
}

func (r *CurriculumRepository) loadWeeks(ctx context.Context, version string) ([]*curriculum.Week, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, title, order_idx, month_id, reward_asset_key
		FROM curriculum_weeks
		WHERE version = $1
		ORDER BY order_idx
	`, version)
	if err != nil {
		return nil, fmt.Errorf("query weeks: %w", err)
	}
	defer rows.Close()

	var weeks []*curriculum.Week
	index := make(map[shared.NodeID]*curriculum.Week)
	for rows.Next() {
		w := &curriculum.Week{}
		var id, monthID string
		if err := rows.Scan(&id, &w.Title, &w.Order, &monthID, &w.RewardAssetKey); err != nil {
			return nil, fmt.Errorf("scan week: %w", err)
		}
		w.ID = shared.NodeID(id)
		w.MonthID = shared.NodeID(monthID)
		weeks = append(weeks, w)
		index[w.ID] = w
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stories, err := r.loadStories(ctx, version)
	if err != nil {
		return nil, err
	}
	for _, s := range stories {
		parent, ok := index[s.WeekID]
		if !ok {
			return nil, fmt.Errorf("story %s references unknown week %s", s.ID, s.WeekID)
		}
		parent.Stories = append(parent.Stories, s)
	}
	return weeks, nil
}

func (r *CurriculumRepository) loadStories(ctx context.Context, version string) ([]*curriculum.Story, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, title, day_slot, week_id, audio_asset_key
		FROM curriculum_stories
		WHERE version = $1
		ORDER BY day_slot
	`, version)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	var stories []*curriculum.Story
	for rows.Next() {
		s := &curriculum.Story{}
		var id, weekID string
		if err := rows.Scan(&id, &s.Title, &s.DaySlot, &weekID, &s.AudioAssetKey); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		s.ID = shared.NodeID(id)
		s.WeekID = shared.NodeID(weekID)
		stories = append(stories, s)
	}
	return stories, rows.Err()
}
