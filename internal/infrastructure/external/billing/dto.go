// Package billing implements the billing-provider API client.
// This package handles all communication with the subscription billing
// provider: fetching subscription state, verifying webhook signatures, and
// translating provider payloads into domain subscription values.
package billing

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION DTOs
// ══════════════════════════════════════════════════════════════════════════════

// SubscriptionDTO represents a subscription as returned by the billing provider.
// This is the external representation that needs to be mapped to our domain model.
type SubscriptionDTO struct {
	// ID is the provider's subscription identifier
	ID string `json:"id"`

	// CustomerRef is the provider's customer identifier
	CustomerRef string `json:"customer_ref"`

	// AccountID is our parent account id, echoed back from checkout metadata
	AccountID string `json:"account_id,omitempty"`

	// Status is the provider-side subscription status
	Status string `json:"status"`

	// Plan is the subscribed plan code
	Plan string `json:"plan,omitempty"`

	// CurrentPeriodEnd is when the paid period runs out
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`

	// TrialEnd is when the trial runs out (trialing subscriptions only)
	TrialEnd *time.Time `json:"trial_end,omitempty"`

	// CanceledAt is when the subscription was canceled, if it was
	CanceledAt *time.Time `json:"canceled_at,omitempty"`

	// CreatedAt is when the subscription was created
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the subscription was last changed
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider-side status values.
const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusUnpaid   = "unpaid"
	StatusExpired  = "expired"
	StatusCanceled = "canceled"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK DTOs
// ══════════════════════════════════════════════════════════════════════════════

// WebhookEventDTO is the envelope the provider posts to our webhook endpoint.
type WebhookEventDTO struct {
	// ID uniquely identifies the event; providers redeliver with the same id.
	ID string `json:"id"`

	// Type is the event kind, e.g. "subscription.updated"
	Type string `json:"type"`

	// CreatedAt is when the provider emitted the event
	CreatedAt time.Time `json:"created_at"`

	// Subscription is the subscription state at event time
	Subscription SubscriptionDTO `json:"subscription"`
}

// Webhook event types the hub reacts to. Unknown types are acknowledged and
// dropped so the provider stops redelivering them.
const (
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventPaymentFailed        = "payment.failed"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO is the provider's error envelope.
type APIErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// StatusCode is the HTTP status the error arrived with; set by the
	// client, never by the wire payload.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	return fmt.Sprintf("billing api error %s: %s", e.Code, e.Message)
}
