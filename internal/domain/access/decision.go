// Package access implements the progression and unlock engine: the single
// decision function that says, for any story and any child, whether the story
// is open right now, waiting out a cooldown, or locked, and whether a week's
// reward cartoon is unlockable.
//
// Both presentation surfaces (the single-story guard and the week map) call
// this package; the unlock rules exist nowhere else.
package access

import (
	"fmt"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORY ACCESS DECISION
// ══════════════════════════════════════════════════════════════════════════════

// State is the access state of one story at one evaluation instant.
// Exactly one state applies per story per evaluation.
type State string

const (
	// StateCompleted - the story has a ledger entry. A completed story stays
	// viewable regardless of entitlement or override flips.
	StateCompleted State = "completed"

	// StateAvailable - the story can be started right now.
	StateAvailable State = "available"

	// StateWaitingCooldown - the prerequisite is done but its cooldown has
	// not elapsed yet.
	StateWaitingCooldown State = "waiting_cooldown"

	// StateLockedByPrerequisite - the prerequisite story is not completed.
	StateLockedByPrerequisite State = "locked_by_prerequisite"

	// StateLockedByEntitlement - the account's subscription does not permit
	// access to not-yet-completed content.
	StateLockedByEntitlement State = "locked_by_entitlement"
)

// Countdown is the remaining cooldown rendered as whole hours and whole
// minutes. Both fields floor toward zero independently, matching a countdown
// display; neither can be negative while the cooldown is still running.
type Countdown struct {
	HoursLeft   int `json:"hours_left"`
	MinutesLeft int `json:"minutes_left"`
}

// NewCountdown converts a remaining duration into display units.
func NewCountdown(remaining time.Duration) Countdown {
	if remaining < 0 {
		remaining = 0
	}
	return Countdown{
		HoursLeft:   int(remaining / time.Hour),
		MinutesLeft: int((remaining % time.Hour) / time.Minute),
	}
}

// String returns e.g. "23h 59m".
func (c Countdown) String() string {
	return fmt.Sprintf("%dh %dm", c.HoursLeft, c.MinutesLeft)
}

// Decision is the evaluated access state of one story.
type Decision struct {
	// StoryID is the story the decision is about.
	StoryID shared.NodeID `json:"story_id"`

	// State is the single applicable access state.
	State State `json:"state"`

	// Countdown carries the remaining wait; set only for
	// StateWaitingCooldown.
	Countdown *Countdown `json:"countdown,omitempty"`

	// PrerequisiteID names the blocking story; set for
	// StateLockedByPrerequisite and StateWaitingCooldown.
	PrerequisiteID shared.NodeID `json:"prerequisite_id,omitempty"`
}

// Viewable reports whether the story content may be rendered.
func (d Decision) Viewable() bool {
	return d.State == StateCompleted || d.State == StateAvailable
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK REWARD DECISION
// ══════════════════════════════════════════════════════════════════════════════

// RewardDecision is the evaluated state of a week's reward cartoon.
type RewardDecision struct {
	// WeekID is the week the decision is about.
	WeekID shared.NodeID `json:"week_id"`

	// Unlocked is true when every story of the week is completed or an
	// override applies.
	Unlocked bool `json:"unlocked"`

	// PercentComplete is round(100 * completed / total) for the week's
	// stories. A week with no stories reports 0 and stays locked.
	PercentComplete shared.Percent `json:"percent_complete"`
}
