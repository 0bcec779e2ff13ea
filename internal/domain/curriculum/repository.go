package curriculum

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// These interfaces define the storage contract for the curriculum.
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository loads the published curriculum from storage.
type Repository interface {
	// LoadPublished returns the currently published curriculum as an indexed
	// tree. Returns ErrCurriculumEmpty when no curriculum has been published.
	LoadPublished(ctx context.Context) (*Tree, error)

	// PublishedVersion returns the version tag of the currently published
	// curriculum without loading the whole tree. Used by the refresh job to
	// skip no-op reloads.
	PublishedVersion(ctx context.Context) (string, error)
}

// Provider exposes the current in-memory curriculum snapshot to the rest of
// the application. The snapshot pointer is swapped atomically on refresh, so
// any Tree handed out remains internally consistent for the duration of a
// request.
type Provider interface {
	// Current returns the active curriculum tree.
	// Returns ErrCurriculumNotSet before the first successful load.
	Current() (*Tree, error)
}
