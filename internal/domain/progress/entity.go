// Package progress models the per-child completion ledger: which stories a
// child has finished and when. The ledger is the only mutable state the
// unlock engine reads; within a single evaluation it is used as an immutable
// snapshot.
package progress

import (
	"strings"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPLAY POLICY
// ══════════════════════════════════════════════════════════════════════════════

// ReplayPolicy decides what happens to the stored completion instant when a
// child re-completes a story that already has a ledger entry.
//
// The distinction matters: the cooldown for the next story is measured from
// the prerequisite's completion instant, so refreshing the timestamp on a
// replay silently pushes downstream unlocks later. FirstWriteWins is the
// default to keep replays harmless.
type ReplayPolicy string

const (
	// FirstWriteWins keeps the original completion instant on replay.
	FirstWriteWins ReplayPolicy = "first_write_wins"

	// LastWriteWins refreshes the completion instant on replay.
	LastWriteWins ReplayPolicy = "last_write_wins"
)

// ParseReplayPolicy parses a configuration string into a ReplayPolicy.
func ParseReplayPolicy(s string) (ReplayPolicy, error) {
	switch ReplayPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case FirstWriteWins:
		return FirstWriteWins, nil
	case LastWriteWins:
		return LastWriteWins, nil
	default:
		return "", shared.ErrUnknownReplayMode
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one recorded completion: a (child, story) pair with the instant
// the completion was persisted. At most one entry exists per pair.
type Entry struct {
	// ChildID identifies the child profile.
	ChildID shared.ChildID

	// StoryID identifies the completed story.
	StoryID shared.NodeID

	// CompletedAt is the server-side instant the completion was recorded.
	CompletedAt shared.Instant
}

// Ledger is a child's completion set keyed by story id. A Ledger value is a
// snapshot: the access evaluator only reads it, and concurrent evaluations
// may share one snapshot freely.
type Ledger struct {
	childID shared.ChildID
	entries map[shared.NodeID]Entry
}

// NewLedger builds a ledger snapshot from stored entries.
func NewLedger(childID shared.ChildID, entries []Entry) *Ledger {
	l := &Ledger{
		childID: childID,
		entries: make(map[shared.NodeID]Entry, len(entries)),
	}
	for _, e := range entries {
		l.entries[e.StoryID] = e
	}
	return l
}

// EmptyLedger returns a ledger with no completions, as created for a new
// child profile.
func EmptyLedger(childID shared.ChildID) *Ledger {
	return NewLedger(childID, nil)
}

// ChildID returns the owning child's id.
func (l *Ledger) ChildID() shared.ChildID {
	return l.childID
}

// Completed reports whether the story has a ledger entry.
func (l *Ledger) Completed(storyID shared.NodeID) bool {
	_, ok := l.entries[storyID]
	return ok
}

// CompletedAt returns the completion instant of the story, if recorded.
func (l *Ledger) CompletedAt(storyID shared.NodeID) (shared.Instant, bool) {
	e, ok := l.entries[storyID]
	if !ok {
		return shared.Instant{}, false
	}
	return e.CompletedAt, true
}

// Size returns the number of completed stories.
func (l *Ledger) Size() int {
	return len(l.entries)
}

// Entries returns all entries in unspecified order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	return out
}

// Record applies a completion to the ledger under the given replay policy and
// returns what happened. Used by in-memory implementations and tests; the
// Postgres repository enforces the same semantics with an ON CONFLICT upsert.
func (l *Ledger) Record(storyID shared.NodeID, at shared.Instant, policy ReplayPolicy) RecordOutcome {
	existing, ok := l.entries[storyID]
	if !ok {
		l.entries[storyID] = Entry{ChildID: l.childID, StoryID: storyID, CompletedAt: at}
		return RecordOutcome{Created: true, RecordedAt: at}
	}

	if policy == LastWriteWins {
		l.entries[storyID] = Entry{ChildID: l.childID, StoryID: storyID, CompletedAt: at}
		return RecordOutcome{
			PreviousAt:       existing.CompletedAt,
			RecordedAt:       at,
			TimestampUpdated: true,
		}
	}

	return RecordOutcome{
		PreviousAt: existing.CompletedAt,
		RecordedAt: existing.CompletedAt,
	}
}

// RecordOutcome describes the effect of recording a completion.
type RecordOutcome struct {
	// Created is true when this was the first completion of the story.
	Created bool

	// TimestampUpdated is true when a replay refreshed the stored instant
	// (LastWriteWins only).
	TimestampUpdated bool

	// PreviousAt is the instant stored before the write (zero when Created).
	PreviousAt shared.Instant

	// RecordedAt is the instant stored after the write.
	RecordedAt shared.Instant
}
