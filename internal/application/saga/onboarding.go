// Package saga contains multi-step business processes that orchestrate
// several domain operations with explicit step tracking and compensation.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/notification"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAMILY ONBOARDING SAGA
// Registration of a new family: Validate → Check Existence → Create Account →
// Warm Progress → Send Welcome → Publish Event.
//
// The account insert is the single point of no return. Everything after it is
// best-effort: a family whose welcome email bounced is still onboarded.
// ══════════════════════════════════════════════════════════════════════════════

// ChildInput describes one child profile to create with the account.
type ChildInput struct {
	// Name is the child's display name.
	Name string

	// BirthYear is used for age-appropriate rendering, not gating.
	BirthYear int
}

// OnboardingInput contains all data required to onboard a new family.
type OnboardingInput struct {
	// Email is the parent's login email (required).
	Email string

	// Password is the raw password; it is hashed inside the saga and never
	// stored or logged.
	Password string

	// DisplayName is how the parent is addressed (optional).
	DisplayName string

	// Children are the profiles to create, at least one.
	Children []ChildInput
}

// Validate checks the input before any side effect runs.
func (i OnboardingInput) Validate() error {
	if strings.TrimSpace(i.Email) == "" {
		return fmt.Errorf("onboarding: email is required: %w", shared.ErrInvalidInput)
	}
	if len(i.Password) < 8 {
		return fmt.Errorf("onboarding: password must be at least 8 characters: %w", shared.ErrWeakPassword)
	}
	if len(i.Children) == 0 {
		return fmt.Errorf("onboarding: at least one child profile is required: %w", shared.ErrInvalidInput)
	}
	if len(i.Children) > family.MaxChildProfiles {
		return fmt.Errorf("onboarding: at most %d child profiles: %w", family.MaxChildProfiles, shared.ErrProfileLimitReached)
	}
	for _, c := range i.Children {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("onboarding: child name is required: %w", shared.ErrInvalidChildName)
		}
	}
	return nil
}

// OnboardingResult contains the outcome of a successful onboarding.
type OnboardingResult struct {
	// Account is the newly created account, children included.
	Account *family.ParentAccount

	// TrialUntil is when the free trial entitlement runs out.
	TrialUntil time.Time

	// WelcomeNotificationID is the id of the welcome email, empty when
	// delivery failed or was suppressed.
	WelcomeNotificationID string

	// OnboardedAt is the completion instant.
	OnboardedAt time.Time
}

// OnboardingStep identifies a step of the process.
type OnboardingStep string

const (
	StepValidateInput  OnboardingStep = "validate_input"
	StepCheckExistence OnboardingStep = "check_existence"
	StepCreateAccount  OnboardingStep = "create_account"
	StepWarmProgress   OnboardingStep = "warm_progress"
	StepSendWelcome    OnboardingStep = "send_welcome"
	StepPublishEvent   OnboardingStep = "publish_event"
	StepComplete       OnboardingStep = "complete"
)

// OnboardingState tracks the saga as it runs.
type OnboardingState struct {
	CurrentStep OnboardingStep
	Input       OnboardingInput
	Account     *family.ParentAccount
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       error
	FailedStep  OnboardingStep
}

// IDGenerator generates unique identifiers for accounts, profiles and
// notifications.
type IDGenerator interface {
	// GenerateID returns a new unique id.
	GenerateID() string
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// FamilyOnboardingSaga orchestrates the registration of a parent account with
// its child profiles and trial entitlement.
type FamilyOnboardingSaga struct {
	familyRepo   family.Repository
	progressRepo progress.Repository
	notifier     notification.Service
	eventBus     shared.EventPublisher
	idGenerator  IDGenerator
	clock        shared.Clock

	trialDuration  time.Duration
	welcomeChannel notification.ChannelType
	bcryptCost     int
}

// OnboardingSagaConfig contains the saga's tunables.
type OnboardingSagaConfig struct {
	// TrialDuration is the length of the free trial granted on signup.
	TrialDuration time.Duration

	// WelcomeChannel is the delivery channel of the welcome message.
	WelcomeChannel notification.ChannelType

	// BcryptCost is the password hashing cost.
	BcryptCost int
}

// DefaultOnboardingConfig returns the default configuration.
func DefaultOnboardingConfig() OnboardingSagaConfig {
	return OnboardingSagaConfig{
		TrialDuration:  14 * 24 * time.Hour,
		WelcomeChannel: notification.ChannelTypeEmail,
		BcryptCost:     bcrypt.DefaultCost,
	}
}

// NewFamilyOnboardingSaga creates the saga with all dependencies.
func NewFamilyOnboardingSaga(
	familyRepo family.Repository,
	progressRepo progress.Repository,
	notifier notification.Service,
	eventBus shared.EventPublisher,
	idGenerator IDGenerator,
	clock shared.Clock,
	config OnboardingSagaConfig,
) *FamilyOnboardingSaga {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if config.TrialDuration <= 0 {
		config.TrialDuration = DefaultOnboardingConfig().TrialDuration
	}
	if config.BcryptCost < bcrypt.MinCost {
		config.BcryptCost = bcrypt.DefaultCost
	}

	return &FamilyOnboardingSaga{
		familyRepo:     familyRepo,
		progressRepo:   progressRepo,
		notifier:       notifier,
		eventBus:       eventBus,
		idGenerator:    idGenerator,
		clock:          clock,
		trialDuration:  config.TrialDuration,
		welcomeChannel: config.WelcomeChannel,
		bcryptCost:     config.BcryptCost,
	}
}

// Execute runs the complete onboarding process.
func (s *FamilyOnboardingSaga) Execute(ctx context.Context, input OnboardingInput) (*OnboardingResult, error) {
	state := &OnboardingState{
		CurrentStep: StepValidateInput,
		Input:       input,
		StartedAt:   s.clock.Now().Time(),
	}

	if err := s.stepValidateInput(state); err != nil {
		return nil, s.wrapError(state, err)
	}

	state.CurrentStep = StepCheckExistence
	if err := s.stepCheckExistence(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	state.CurrentStep = StepCreateAccount
	if err := s.stepCreateAccount(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	// From here on the account exists; failures degrade, they don't abort.

	state.CurrentStep = StepWarmProgress
	s.stepWarmProgress(ctx, state)

	state.CurrentStep = StepSendWelcome
	welcomeID, _ := s.stepSendWelcome(ctx, state)

	state.CurrentStep = StepPublishEvent
	_ = s.stepPublishEvent(state)

	state.CurrentStep = StepComplete
	now := s.clock.Now().Time()
	state.CompletedAt = &now

	return &OnboardingResult{
		Account:               state.Account,
		TrialUntil:            state.Account.Subscription.ExpiresAt,
		WelcomeNotificationID: welcomeID,
		OnboardedAt:           now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

func (s *FamilyOnboardingSaga) stepValidateInput(state *OnboardingState) error {
	if err := state.Input.Validate(); err != nil {
		state.FailedStep = StepValidateInput
		state.Error = err
		return err
	}
	return nil
}

func (s *FamilyOnboardingSaga) stepCheckExistence(ctx context.Context, state *OnboardingState) error {
	email := shared.Email(strings.ToLower(strings.TrimSpace(state.Input.Email)))

	_, err := s.familyRepo.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		state.FailedStep = StepCheckExistence
		state.Error = shared.ErrAccountAlreadyExists
		return state.Error
	case errors.Is(err, shared.ErrAccountNotFound):
		return nil
	default:
		state.FailedStep = StepCheckExistence
		state.Error = fmt.Errorf("check email existence: %w", err)
		return state.Error
	}
}

func (s *FamilyOnboardingSaga) stepCreateAccount(ctx context.Context, state *OnboardingState) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(state.Input.Password), s.bcryptCost)
	if err != nil {
		state.FailedStep = StepCreateAccount
		state.Error = fmt.Errorf("hash password: %w", err)
		return state.Error
	}

	displayName := strings.TrimSpace(state.Input.DisplayName)
	if displayName == "" {
		displayName = "Parent"
	}

	account, err := family.NewParentAccount(family.NewAccountParams{
		ID:           shared.AccountID(s.idGenerator.GenerateID()),
		Email:        shared.Email(strings.ToLower(strings.TrimSpace(state.Input.Email))),
		PasswordHash: string(hash),
		DisplayName:  displayName,
		TrialUntil:   s.clock.Now().Time().Add(s.trialDuration),
	})
	if err != nil {
		state.FailedStep = StepCreateAccount
		state.Error = fmt.Errorf("create account entity: %w", err)
		return state.Error
	}

	for _, c := range state.Input.Children {
		profile, err := family.NewChildProfile(
			shared.ChildID(s.idGenerator.GenerateID()),
			c.Name,
			c.BirthYear,
		)
		if err != nil {
			state.FailedStep = StepCreateAccount
			state.Error = fmt.Errorf("create child profile %q: %w", c.Name, err)
			return state.Error
		}
		if err := account.AddChild(profile); err != nil {
			state.FailedStep = StepCreateAccount
			state.Error = fmt.Errorf("add child profile: %w", err)
			return state.Error
		}
	}

	if err := s.familyRepo.CreateAccount(ctx, account); err != nil {
		state.FailedStep = StepCreateAccount
		state.Error = fmt.Errorf("persist account: %w", err)
		return state.Error
	}

	state.Account = account
	return nil
}

// stepWarmProgress primes the ledger read path for each new child so the
// first week-map request hits a warm snapshot. A cold cache is not a failure.
func (s *FamilyOnboardingSaga) stepWarmProgress(ctx context.Context, state *OnboardingState) {
	if s.progressRepo == nil {
		return
	}
	for _, child := range state.Account.Children {
		_, _ = s.progressRepo.Snapshot(ctx, child.ID)
	}
}

func (s *FamilyOnboardingSaga) stepSendWelcome(ctx context.Context, state *OnboardingState) (string, error) {
	if s.notifier == nil {
		return "", nil
	}

	n := &notification.Notification{
		ID:        notification.NotificationID(s.idGenerator.GenerateID()),
		AccountID: state.Account.ID,
		Type:      notification.TypeWelcome,
		Channel:   s.welcomeChannel,
		Subject:   "Welcome to Fable Hub!",
		Body:      s.buildWelcomeMessage(state),
		Status:    notification.StatusPending,
		DedupeKey: fmt.Sprintf("welcome:%s", state.Account.ID),
		CreatedAt: s.clock.Now().Time(),
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		return "", fmt.Errorf("send welcome: %w", err)
	}
	return n.ID.String(), nil
}

func (s *FamilyOnboardingSaga) stepPublishEvent(state *OnboardingState) error {
	if s.eventBus == nil {
		return nil
	}

	event := shared.AccountRegisteredEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventAccountRegistered, state.Account.ID.String()),
		Email:     state.Account.Email.String(),
		Children:  len(state.Account.Children),
	}
	if err := s.eventBus.Publish(event); err != nil {
		return fmt.Errorf("publish account registered event: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS AND ERRORS
// ══════════════════════════════════════════════════════════════════════════════

func (s *FamilyOnboardingSaga) buildWelcomeMessage(state *OnboardingState) string {
	var names []string
	for _, c := range state.Account.Children {
		names = append(names, c.Name)
	}
	trialDays := int(s.trialDuration.Hours() / 24)

	return fmt.Sprintf(
		"Hi %s! Your Fable Hub family is ready: %s can start the first story right now. "+
			"One story unlocks the next, and finishing a week opens the reward cartoon. "+
			"Your free trial runs for %d days.",
		state.Account.DisplayName,
		strings.Join(names, ", "),
		trialDays,
	)
}

// wrapError wraps a step failure with saga context.
func (s *FamilyOnboardingSaga) wrapError(state *OnboardingState, err error) error {
	return &OnboardingError{
		Step:    state.FailedStep,
		Cause:   err,
		Message: fmt.Sprintf("onboarding failed at step '%s': %v", state.FailedStep, err),
	}
}

// OnboardingError reports which step of the saga failed.
type OnboardingError struct {
	Step    OnboardingStep
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *OnboardingError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *OnboardingError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether retrying the same input can succeed.
// Validation and duplicate-account failures are permanent; persistence
// failures are worth retrying.
func (e *OnboardingError) IsRetryable() bool {
	switch e.Step {
	case StepValidateInput, StepCheckExistence:
		return false
	case StepCreateAccount:
		return !errors.Is(e.Cause, shared.ErrAccountAlreadyExists)
	default:
		return true
	}
}
