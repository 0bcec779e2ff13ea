package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

func TestParseReplayPolicy(t *testing.T) {
	p, err := ParseReplayPolicy("first_write_wins")
	require.NoError(t, err)
	assert.Equal(t, FirstWriteWins, p)

	p, err = ParseReplayPolicy("  LAST_WRITE_WINS ")
	require.NoError(t, err)
	assert.Equal(t, LastWriteWins, p)

	_, err = ParseReplayPolicy("newest")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestLedger_SnapshotReads(t *testing.T) {
	t0 := shared.NewInstant(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ledger := NewLedger("child-1", []Entry{
		{ChildID: "child-1", StoryID: "story-a", CompletedAt: t0},
	})

	assert.True(t, ledger.Completed("story-a"))
	assert.False(t, ledger.Completed("story-b"))

	at, ok := ledger.CompletedAt("story-a")
	require.True(t, ok)
	assert.Equal(t, t0, at)

	_, ok = ledger.CompletedAt("story-b")
	assert.False(t, ok)

	assert.Equal(t, 1, ledger.Size())
	assert.Equal(t, shared.ChildID("child-1"), ledger.ChildID())
}

func TestLedger_Record_FirstWriteWins(t *testing.T) {
	t0 := shared.NewInstant(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	t1 := t0.Add(48 * time.Hour)

	ledger := EmptyLedger("child-1")

	out := ledger.Record("story-a", t0, FirstWriteWins)
	assert.True(t, out.Created)
	assert.Equal(t, t0, out.RecordedAt)

	// Replay keeps the original instant: downstream cooldowns do not move.
	out = ledger.Record("story-a", t1, FirstWriteWins)
	assert.False(t, out.Created)
	assert.False(t, out.TimestampUpdated)
	assert.Equal(t, t0, out.PreviousAt)
	assert.Equal(t, t0, out.RecordedAt)

	at, _ := ledger.CompletedAt("story-a")
	assert.Equal(t, t0, at)
}

func TestLedger_Record_LastWriteWins(t *testing.T) {
	t0 := shared.NewInstant(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	t1 := t0.Add(48 * time.Hour)

	ledger := EmptyLedger("child-1")
	ledger.Record("story-a", t0, LastWriteWins)

	out := ledger.Record("story-a", t1, LastWriteWins)
	assert.False(t, out.Created)
	assert.True(t, out.TimestampUpdated)
	assert.Equal(t, t0, out.PreviousAt)
	assert.Equal(t, t1, out.RecordedAt)

	at, _ := ledger.CompletedAt("story-a")
	assert.Equal(t, t1, at)
}
