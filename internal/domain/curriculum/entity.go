// Package curriculum models the published story curriculum: a strict
// four-level tree of Blocks, Months, Weeks and Stories. The tree is read-only
// at runtime; it is loaded once from storage and swapped atomically on
// refresh. All unlock decisions in the access package are computed against
// this structure.
package curriculum

import (
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM NODES
// ══════════════════════════════════════════════════════════════════════════════

// Day slots of stories inside a week. The sequence is sparse on purpose: the
// product schedules a story every other day, so slots are 1, 3 and 5, and the
// unlock chain steps by two, not by one.
const (
	DaySlotFirst = 1
	DaySlotMid   = 3
	DaySlotLast  = 5
)

// ValidDaySlot reports whether slot is one of the allowed positions.
func ValidDaySlot(slot int) bool {
	return slot == DaySlotFirst || slot == DaySlotMid || slot == DaySlotLast
}

// Story is a leaf of the curriculum tree: one short personalized story.
type Story struct {
	// ID is the unique node id of the story.
	ID shared.NodeID

	// Title is the display title.
	Title string

	// DaySlot is the story's position within its week (1, 3 or 5).
	DaySlot int

	// WeekID references the parent week.
	WeekID shared.NodeID

	// AudioAssetKey is the object-storage key of the narration audio, if any.
	// Purely presentational; never consulted by unlock logic.
	AudioAssetKey string
}

// Week groups the stories of one curriculum week and owns the weekly reward.
type Week struct {
	// ID is the unique node id of the week.
	ID shared.NodeID

	// Title is the display title.
	Title string

	// Order is the week's 1-based position within its month.
	Order int

	// MonthID references the parent month.
	MonthID shared.NodeID

	// Stories are the week's stories ordered by DaySlot ascending.
	Stories []*Story

	// RewardAssetKey is the object-storage key of the reward cartoon, if any.
	RewardAssetKey string
}

// Month groups the weeks of one curriculum month.
type Month struct {
	// ID is the unique node id of the month.
	ID shared.NodeID

	// Title is the display title.
	Title string

	// Order is the month's 1-based position within its block.
	Order int

	// BlockID references the parent block.
	BlockID shared.NodeID

	// Weeks are the month's weeks ordered by Order ascending.
	Weeks []*Week
}

// Block is the coarsest curriculum level.
type Block struct {
	// ID is the unique node id of the block.
	ID shared.NodeID

	// Title is the display title.
	Title string

	// Order is the block's 1-based position within the curriculum (dense).
	Order int

	// Months are the block's months ordered by Order ascending.
	Months []*Month
}

// ══════════════════════════════════════════════════════════════════════════════
// LINEAR POSITION
// ══════════════════════════════════════════════════════════════════════════════

// LinearPosition is the total ordering key of a story within the curriculum:
// block order, then month order, then week order, then day slot, all
// ascending.
type LinearPosition struct {
	Block int
	Month int
	Week  int
	Day   int
}

// Before reports whether p sorts strictly before other.
func (p LinearPosition) Before(other LinearPosition) bool {
	if p.Block != other.Block {
		return p.Block < other.Block
	}
	if p.Month != other.Month {
		return p.Month < other.Month
	}
	if p.Week != other.Week {
		return p.Week < other.Week
	}
	return p.Day < other.Day
}

// IsOrigin reports whether p is the global minimum position, i.e. the very
// first story of the curriculum. The origin story has no prerequisite.
func (p LinearPosition) IsOrigin() bool {
	return p.Block == 1 && p.Month == 1 && p.Week == 1 && p.Day == DaySlotFirst
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT METADATA
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotInfo describes a loaded curriculum snapshot.
type SnapshotInfo struct {
	// Version is an opaque version tag from the authoring pipeline.
	Version string

	// PublishedAt is when this version was published.
	PublishedAt time.Time

	// Blocks, Weeks and Stories are node counts, for logging and health.
	Blocks  int
	Weeks   int
	Stories int
}
