// Package timeutil provides UTC time utilities for Fable Story Hub.
// All progression timestamps are stored and compared in UTC so that a child
// travelling across timezones never gains or loses cooldown time.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// ToUTC converts a time to UTC.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// Date creates a UTC time with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// DateTime creates a UTC time with the given date and time.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

// StartOfDay returns the start of the day (00:00:00) in UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in UTC.
func EndOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 999999999, time.UTC)
}

// IsSameDay checks if two times fall on the same UTC day.
func IsSameDay(t1, t2 time.Time) bool {
	u1, u2 := t1.UTC(), t2.UTC()
	return u1.Year() == u2.Year() && u1.YearDay() == u2.YearDay()
}

// DaysBetween calculates the number of UTC days between two times.
func DaysBetween(t1, t2 time.Time) int {
	d1 := StartOfDay(t1)
	d2 := StartOfDay(t2)
	days := int(d2.Sub(d1).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// Cooldown window helpers.

// UnlockAt returns the moment a cooldown started at completedAt expires.
func UnlockAt(completedAt time.Time, cooldown time.Duration) time.Time {
	return completedAt.UTC().Add(cooldown)
}

// CooldownRemaining returns how much of the cooldown is left at the given
// moment. The result is clamped to [0, cooldown] so that a skewed completion
// timestamp in the future never produces a countdown longer than the cooldown.
func CooldownRemaining(completedAt, now time.Time, cooldown time.Duration) time.Duration {
	remaining := UnlockAt(completedAt, cooldown).Sub(now.UTC())
	if remaining < 0 {
		return 0
	}
	if remaining > cooldown {
		return cooldown
	}
	return remaining
}

// CooldownElapsed reports whether the cooldown started at completedAt has
// fully elapsed at the given moment.
func CooldownElapsed(completedAt, now time.Time, cooldown time.Duration) bool {
	return CooldownRemaining(completedAt, now, cooldown) == 0
}

// SplitHoursMinutes breaks a duration into whole hours and whole minutes,
// flooring the remainder. 23h59m30s becomes (23, 59), not (24, 0).
func SplitHoursMinutes(d time.Duration) (hours, minutes int) {
	if d < 0 {
		return 0, 0
	}
	totalMinutes := int(d / time.Minute)
	return totalMinutes / 60, totalMinutes % 60
}

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the standard time format (HH:MM).
	FormatTime = "15:04"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatDateTimeSeconds includes seconds.
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
	// FormatHumanDate is a human-readable format.
	FormatHumanDate = "2 January 2006"
	// FormatShortDate is a short format (Jan 2).
	FormatShortDate = "Jan 2"
)

// FormatUTC formats a time in UTC with the given layout.
func FormatUTC(t time.Time, layout string) string {
	return t.UTC().Format(layout)
}

// FormatDateStr formats a time as a date string (YYYY-MM-DD) in UTC.
func FormatDateStr(t time.Time) string {
	return FormatUTC(t, FormatDate)
}

// FormatDateTimeStr formats a time as a datetime string in UTC.
func FormatDateTimeStr(t time.Time) string {
	return FormatUTC(t, FormatDateTime)
}

// FormatCountdown renders a remaining duration as "Nh Mm", flooring to the
// minute. This is the exact string shown on a locked story card.
func FormatCountdown(d time.Duration) string {
	hours, minutes := SplitHoursMinutes(d)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// ParseUTC parses a time string as UTC.
func ParseUTC(layout, value string) (time.Time, error) {
	return time.ParseInLocation(layout, value, time.UTC)
}

// ParseDateUTC parses a date string (YYYY-MM-DD) as UTC midnight.
func ParseDateUTC(value string) (time.Time, error) {
	return ParseUTC(FormatDate, value)
}

// Notification timing helpers.
//
// Unlock notifications fire when a cooldown elapses, which can happen at any
// hour of the child's day. The scheduler uses these helpers, applying the
// family's configured timezone offset, to avoid waking households at night.

// IsSafeNotificationHour checks if the given local hour is appropriate for
// push delivery (9:00-21:00).
func IsSafeNotificationHour(localHour int) bool {
	return localHour >= 9 && localHour < 21
}

// NextSafeNotificationTime returns the next moment at or after t when
// notifications are appropriate for the given UTC offset.
func NextSafeNotificationTime(t time.Time, offset time.Duration) time.Time {
	local := t.UTC().Add(offset)
	hour := local.Hour()

	switch {
	case hour < 9:
		// Before 9 AM local - deliver at 9 AM today
		morning := time.Date(local.Year(), local.Month(), local.Day(), 9, 0, 0, 0, time.UTC)
		return morning.Add(-offset)
	case hour >= 21:
		// After 9 PM local - deliver at 9 AM tomorrow
		tomorrow := local.AddDate(0, 0, 1)
		morning := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 9, 0, 0, 0, time.UTC)
		return morning.Add(-offset)
	default:
		return t.UTC()
	}
}
