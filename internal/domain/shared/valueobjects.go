// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ChildID represents a unique child profile identifier (UUID format).
type ChildID string

// IsValid checks if the child ID is a valid UUID.
func (c ChildID) IsValid() bool {
	return uuidRegex.MatchString(string(c))
}

// String returns the string representation.
func (c ChildID) String() string {
	return string(c)
}

// NewChildID creates a new ChildID with validation.
func NewChildID(id string) (ChildID, error) {
	cid := ChildID(strings.TrimSpace(id))
	if !cid.IsValid() {
		return "", ErrInvalidID
	}
	return cid, nil
}

// AccountID represents a unique parent account identifier (UUID format).
type AccountID string

// IsValid checks if the account ID is a valid UUID.
func (a AccountID) IsValid() bool {
	return uuidRegex.MatchString(string(a))
}

// String returns the string representation.
func (a AccountID) String() string {
	return string(a)
}

// NewAccountID creates a new AccountID with validation.
func NewAccountID(id string) (AccountID, error) {
	aid := AccountID(strings.TrimSpace(id))
	if !aid.IsValid() {
		return "", ErrInvalidID
	}
	return aid, nil
}

// NodeID represents a curriculum node identifier (block, month, week or story).
// Node ids come from the curriculum authoring pipeline as slugs, e.g.
// "block-2-month-1-week-3-story-5".
type NodeID string

// Slug format for curriculum node ids.
var nodeIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,99}$`)

// IsValid checks if the node ID has a valid slug format.
func (n NodeID) IsValid() bool {
	return nodeIDRegex.MatchString(string(n))
}

// String returns the string representation.
func (n NodeID) String() string {
	return string(n)
}

// NewNodeID creates a new NodeID with validation.
func NewNodeID(id string) (NodeID, error) {
	nid := NodeID(strings.TrimSpace(strings.ToLower(id)))
	if !nid.IsValid() {
		return "", ErrInvalidID
	}
	return nid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Email Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Email represents a validated parent email address.
type Email string

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// IsValid checks if the email has a plausible format.
func (e Email) IsValid() bool {
	return emailRegex.MatchString(string(e))
}

// String returns the string representation.
func (e Email) String() string {
	return string(e)
}

// Normalize returns a normalized (lowercase, trimmed) version of the email.
func (e Email) Normalize() Email {
	return Email(strings.ToLower(strings.TrimSpace(string(e))))
}

// NewEmail creates a new Email with validation.
func NewEmail(raw string) (Email, error) {
	e := Email(raw).Normalize()
	if !e.IsValid() {
		return "", ErrInvalidFormat
	}
	return e, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Time Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Instant is a UTC timestamp value object. All completion instants and
// evaluation times in the domain are carried as Instant to keep timezone
// handling out of the decision logic.
type Instant struct {
	t time.Time
}

// NewInstant creates an Instant from a time, normalizing to UTC.
func NewInstant(t time.Time) Instant {
	return Instant{t: t.UTC()}
}

// Time returns the underlying UTC time.
func (i Instant) Time() time.Time {
	return i.t
}

// IsZero reports whether the instant is the zero value.
func (i Instant) IsZero() bool {
	return i.t.IsZero()
}

// Before reports whether i is before other.
func (i Instant) Before(other Instant) bool {
	return i.t.Before(other.t)
}

// Sub returns the duration i - other.
func (i Instant) Sub(other Instant) time.Duration {
	return i.t.Sub(other.t)
}

// Add returns the instant shifted by d.
func (i Instant) Add(d time.Duration) Instant {
	return Instant{t: i.t.Add(d)}
}

// String returns the RFC3339 representation.
func (i Instant) String() string {
	return i.t.Format(time.RFC3339)
}

// Clock supplies the current instant. Access decisions must always use a
// server-side Clock implementation; accepting "now" from a client request
// would let it forge early unlocks.
type Clock interface {
	Now() Instant
}

// SystemClock is the production Clock backed by the OS time source.
type SystemClock struct{}

// Now returns the current UTC instant.
func (SystemClock) Now() Instant {
	return NewInstant(time.Now())
}

// FixedClock is a Clock pinned to a single instant, for tests.
type FixedClock struct {
	Instant Instant
}

// Now returns the pinned instant.
func (c FixedClock) Now() Instant {
	return c.Instant
}

// ═══════════════════════════════════════════════════════════════════════════
// Percent Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Percent is an integer percentage in [0, 100].
type Percent int

// NewPercent computes round(100 * part / total) as a Percent.
// A zero total yields 0 rather than dividing by zero.
func NewPercent(part, total int) Percent {
	if total <= 0 {
		return 0
	}
	p := (200*part + total) / (2 * total) // round half up
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return Percent(p)
}

// Int returns the underlying int value.
func (p Percent) Int() int {
	return int(p)
}

// IsComplete reports whether the percentage is exactly 100.
func (p Percent) IsComplete() bool {
	return p == 100
}

// String returns e.g. "75%".
func (p Percent) String() string {
	return fmt.Sprintf("%d%%", int(p))
}
