package billing

import (
	"fmt"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - Provider DTOs to domain model
// ══════════════════════════════════════════════════════════════════════════════

// Mapper translates billing-provider payloads into domain subscription values.
type Mapper struct{}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// StateFromStatus maps a provider status string to a domain subscription state.
// The provider distinguishes past_due, unpaid and expired; the hub treats all
// three as lapsed, since none of them permit content access.
func (m *Mapper) StateFromStatus(status string) (family.SubscriptionState, error) {
	switch status {
	case StatusTrialing:
		return family.SubscriptionTrial, nil
	case StatusActive:
		return family.SubscriptionActive, nil
	case StatusPastDue, StatusUnpaid, StatusExpired:
		return family.SubscriptionLapsed, nil
	case StatusCanceled:
		return family.SubscriptionCanceled, nil
	default:
		return "", fmt.Errorf("status %q: %w", status, shared.ErrBillingInvalidResponse)
	}
}

// SubscriptionFromDTO maps a provider subscription to the domain value,
// choosing the entitlement expiry the access policy keys off.
func (m *Mapper) SubscriptionFromDTO(dto *SubscriptionDTO, syncedAt time.Time) (family.Subscription, error) {
	state, err := m.StateFromStatus(dto.Status)
	if err != nil {
		return family.Subscription{}, err
	}

	return family.Subscription{
		State:       state,
		ExpiresAt:   m.expiresAt(dto, state),
		ProviderRef: dto.ID,
		SyncedAt:    syncedAt,
	}, nil
}

// expiresAt picks the timestamp the subscription's access runs out.
func (m *Mapper) expiresAt(dto *SubscriptionDTO, state family.SubscriptionState) time.Time {
	switch state {
	case family.SubscriptionTrial:
		if dto.TrialEnd != nil {
			return *dto.TrialEnd
		}
	case family.SubscriptionActive, family.SubscriptionCanceled:
		// A canceled subscription keeps access until the paid period ends.
		if dto.CurrentPeriodEnd != nil {
			return *dto.CurrentPeriodEnd
		}
	}
	return time.Time{}
}
