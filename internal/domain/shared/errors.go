// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "curriculum", "progress", "access"
	Op      string // Operation that failed, e.g., "Resolve", "Record"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Curriculum domain errors
var (
	// ErrUnknownNode means a story/week/month/block id does not exist in the
	// published curriculum tree. This is a data-integrity bug on the caller
	// side and must surface as "not found", never as a locked decision.
	ErrUnknownNode      = NewDomainError("curriculum", "Lookup", ErrNotFound, "curriculum node not found")
	ErrCurriculumEmpty  = NewDomainError("curriculum", "Load", ErrInvalidEntity, "curriculum tree has no blocks")
	ErrDuplicateNodeID  = NewDomainError("curriculum", "Load", ErrAlreadyExists, "duplicate node id in curriculum")
	ErrInvalidDaySlot   = NewDomainError("curriculum", "Validate", ErrValueOutOfRange, "day slot must be one of 1, 3, 5")
	ErrInvalidOrderIdx  = NewDomainError("curriculum", "Validate", ErrValueOutOfRange, "order index must be positive")
	ErrCurriculumStale  = NewDomainError("curriculum", "Refresh", ErrExpired, "curriculum snapshot is stale")
	ErrCurriculumNotSet = NewDomainError("curriculum", "Access", ErrInvalidState, "no curriculum loaded")
)

// Progress domain errors
var (
	// ErrLedgerUnavailable means the progress ledger could not be read. The
	// evaluator must never default to a permissive decision on this error;
	// callers surface it as a retryable hard failure.
	ErrLedgerUnavailable  = NewDomainError("progress", "Load", ErrServiceUnavailable, "progress ledger unavailable")
	ErrPersistenceWrite   = NewDomainError("progress", "Record", ErrExternalService, "failed to persist completion")
	ErrEntryNotFound      = NewDomainError("progress", "Find", ErrNotFound, "progress entry not found")
	ErrCompletionInFuture = NewDomainError("progress", "Record", ErrFutureTimestamp, "completion instant is in the future")
	ErrUnknownReplayMode  = NewDomainError("progress", "Configure", ErrInvalidInput, "unknown completion replay policy")
)

// Family domain errors
var (
	ErrProfileNotFound      = NewDomainError("family", "Find", ErrNotFound, "child profile not found")
	ErrAccountNotFound      = NewDomainError("family", "Find", ErrNotFound, "parent account not found")
	ErrAccountAlreadyExists = NewDomainError("family", "Create", ErrAlreadyExists, "parent account already exists")
	ErrProfileLimitReached  = NewDomainError("family", "AddChild", ErrValueOutOfRange, "child profile limit reached")
	ErrInvalidChildName     = NewDomainError("family", "Validate", ErrInvalidInput, "invalid child name")
	ErrSubscriptionState    = NewDomainError("family", "UpdateSubscription", ErrStateTransition, "invalid subscription state transition")
	ErrWeakPassword         = NewDomainError("family", "Validate", ErrInvalidInput, "password does not meet requirements")
)

// Notification domain errors
var (
	ErrNotificationNotFound = NewDomainError("notification", "Find", ErrNotFound, "notification not found")
	ErrNotificationFailed   = NewDomainError("notification", "Send", ErrExternalService, "failed to send notification")
	ErrInvalidChannel       = NewDomainError("notification", "Validate", ErrInvalidInput, "invalid notification channel")
	ErrNotificationDisabled = NewDomainError("notification", "Check", ErrForbidden, "notifications disabled by parent")
	ErrTooManyNotifications = NewDomainError("notification", "Send", ErrRateLimited, "too many notifications")
)

// External service errors
var (
	ErrBillingUnavailable     = NewDomainError("billing", "Request", ErrServiceUnavailable, "billing provider is unavailable")
	ErrBillingRateLimited     = NewDomainError("billing", "Request", ErrRateLimited, "billing provider rate limit exceeded")
	ErrBillingTimeout         = NewDomainError("billing", "Request", ErrTimeout, "billing provider request timeout")
	ErrBillingInvalidResponse = NewDomainError("billing", "Parse", ErrInvalidFormat, "invalid response from billing provider")
	ErrWebhookSignature       = NewDomainError("billing", "Verify", ErrUnauthorized, "webhook signature mismatch")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
