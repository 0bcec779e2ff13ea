package access

import (
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// PolicyContext carries the per-evaluation access policy: the account's
// entitlement, any administrative override, and the evaluation instant.
// It is ephemeral - built fresh for each evaluation from the profile and a
// server-side clock, never cached and never taken from the client.
type PolicyContext struct {
	// Entitled is true when the subscription/trial state currently permits
	// content access.
	Entitled bool

	// Override is true when an administrative bypass is granted. Override
	// beats entitlement, prerequisite and cooldown gating, but never turns a
	// completed story back into an available one.
	Override bool

	// Now is the evaluation instant, resolved server-side. Countdown math
	// and cooldown comparisons use this value only, so repeated evaluations
	// with a fresh Now are how the UI ticks its timers.
	Now shared.Instant
}
