package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownRemaining(t *testing.T) {
	completed := Date(2026, 3, 10)
	cooldown := 24 * time.Hour

	assert.Equal(t, cooldown, CooldownRemaining(completed, completed, cooldown))
	assert.Equal(t, 12*time.Hour, CooldownRemaining(completed, completed.Add(12*time.Hour), cooldown))
	assert.Equal(t, time.Duration(0), CooldownRemaining(completed, completed.Add(24*time.Hour), cooldown))
	assert.Equal(t, time.Duration(0), CooldownRemaining(completed, completed.Add(48*time.Hour), cooldown))

	// A completion timestamp in the future must not stretch the countdown.
	future := completed.Add(6 * time.Hour)
	assert.Equal(t, cooldown, CooldownRemaining(future, completed, cooldown))
}

func TestCooldownElapsed(t *testing.T) {
	completed := Date(2026, 3, 10)
	cooldown := 24 * time.Hour

	assert.False(t, CooldownElapsed(completed, completed.Add(cooldown-time.Second), cooldown))
	assert.True(t, CooldownElapsed(completed, completed.Add(cooldown), cooldown))
}

func TestSplitHoursMinutes(t *testing.T) {
	cases := []struct {
		d       time.Duration
		hours   int
		minutes int
	}{
		{24 * time.Hour, 24, 0},
		{23*time.Hour + 59*time.Minute + 30*time.Second, 23, 59},
		{90 * time.Second, 0, 1},
		{59 * time.Second, 0, 0},
		{-time.Hour, 0, 0},
	}
	for _, c := range cases {
		h, m := SplitHoursMinutes(c.d)
		assert.Equal(t, c.hours, h, "duration %s", c.d)
		assert.Equal(t, c.minutes, m, "duration %s", c.d)
	}
}

func TestFormatCountdown(t *testing.T) {
	assert.Equal(t, "23h 59m", FormatCountdown(23*time.Hour+59*time.Minute+59*time.Second))
	assert.Equal(t, "0h 0m", FormatCountdown(30*time.Second))
}

func TestNextSafeNotificationTime(t *testing.T) {
	offset := 2 * time.Hour // UTC+2 household

	// 03:00 local -> 09:00 local same day
	early := DateTime(2026, 3, 10, 1, 0, 0) // 03:00 local
	got := NextSafeNotificationTime(early, offset)
	assert.Equal(t, DateTime(2026, 3, 10, 7, 0, 0), got)

	// 22:30 local -> 09:00 local next day
	late := DateTime(2026, 3, 10, 20, 30, 0) // 22:30 local
	got = NextSafeNotificationTime(late, offset)
	assert.Equal(t, DateTime(2026, 3, 11, 7, 0, 0), got)

	// 12:00 local is already safe
	noon := DateTime(2026, 3, 10, 10, 0, 0)
	assert.Equal(t, noon, NextSafeNotificationTime(noon, offset))
}
