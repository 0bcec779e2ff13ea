// Package http implements the REST API and webhook endpoints for Fable Story Hub.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/application/command"
	"github.com/fable-hub/fable-story-hub/internal/application/query"
	"github.com/fable-hub/fable-story-hub/internal/application/saga"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
	"github.com/fable-hub/fable-story-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Fable Story Hub API",
		"version":     "v1",
		"description": "Progression and unlock engine for the Fable Hub story app",
		"endpoints": map[string]string{
			"health":   "/health",
			"access":   "/api/v1/children/{childID}/stories/{storyID}/access",
			"map":      "/api/v1/children/{childID}/weeks/{weekID}/map",
			"complete": "/api/v1/children/{childID}/stories/{storyID}/complete",
			"progress": "/api/v1/children/{childID}/progress",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetStoryAccess handles GET /api/v1/children/{childID}/stories/{storyID}/access
func (s *Server) handleGetStoryAccess(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetStoryAccessHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Access handler not configured")
		return
	}

	q := query.GetStoryAccessQuery{
		ChildID: r.PathValue("childID"),
		StoryID: r.PathValue("storyID"),
	}

	result, err := s.deps.GetStoryAccessHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, err, "failed to evaluate story access",
			logger.ChildID(q.ChildID), logger.StoryID(q.StoryID))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetWeekMap handles GET /api/v1/children/{childID}/weeks/{weekID}/map
func (s *Server) handleGetWeekMap(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetWeekMapHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Week map handler not configured")
		return
	}

	q := query.GetWeekMapQuery{
		ChildID: r.PathValue("childID"),
		WeekID:  r.PathValue("weekID"),
	}

	result, err := s.deps.GetWeekMapHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, err, "failed to build week map",
			logger.ChildID(q.ChildID), logger.WeekID(q.WeekID))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleCompleteStory handles POST /api/v1/children/{childID}/stories/{storyID}/complete
//
// The request carries no body; the completion instant is always server time.
func (s *Server) handleCompleteStory(w http.ResponseWriter, r *http.Request) {
	if s.deps.CompleteStoryHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Completion handler not configured")
		return
	}

	cmd := command.CompleteStoryCommand{
		ChildID:       r.PathValue("childID"),
		StoryID:       r.PathValue("storyID"),
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.CompleteStoryHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, err, "failed to record completion",
			logger.ChildID(cmd.ChildID), logger.StoryID(cmd.StoryID))
		return
	}

	status := http.StatusCreated
	if !result.FirstCompletion {
		// Replay: acknowledged, nothing new recorded.
		status = http.StatusOK
	}
	writeJSON(w, status, completionResponse{
		ChildID:          result.ChildID,
		StoryID:          result.StoryID,
		FirstCompletion:  result.FirstCompletion,
		TimestampUpdated: result.TimestampUpdated,
		CompletedAt:      result.CompletedAt.String(),
		WeekCompleted:    result.WeekCompleted,
		RewardUnlocked:   result.RewardUnlocked,
	})
}

// completionResponse is the wire shape of a recorded completion.
type completionResponse struct {
	ChildID          string `json:"child_id"`
	StoryID          string `json:"story_id"`
	FirstCompletion  bool   `json:"first_completion"`
	TimestampUpdated bool   `json:"timestamp_updated"`
	CompletedAt      string `json:"completed_at"`
	WeekCompleted    bool   `json:"week_completed"`
	RewardUnlocked   bool   `json:"reward_unlocked"`
}

// handleGetProgress handles GET /api/v1/children/{childID}/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetProgressSummaryHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Progress handler not configured")
		return
	}

	q := query.GetProgressSummaryQuery{
		ChildID: r.PathValue("childID"),
	}

	result, err := s.deps.GetProgressSummaryHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, err, "failed to summarize progress",
			logger.ChildID(q.ChildID))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// createAccountRequest is the wire shape of a family signup.
type createAccountRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Children    []struct {
		Name      string `json:"name"`
		BirthYear int    `json:"birth_year,omitempty"`
	} `json:"children"`
}

// createAccountResponse is the wire shape of a completed signup.
type createAccountResponse struct {
	AccountID   string   `json:"account_id"`
	Email       string   `json:"email"`
	ChildIDs    []string `json:"child_ids"`
	TrialUntil  string   `json:"trial_until"`
	OnboardedAt string   `json:"onboarded_at"`
}

// handleCreateAccount handles POST /api/v1/accounts
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	if s.deps.OnboardingSaga == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Onboarding not configured")
		return
	}

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}

	input := saga.OnboardingInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	}
	for _, c := range req.Children {
		input.Children = append(input.Children, saga.ChildInput{
			Name:      c.Name,
			BirthYear: c.BirthYear,
		})
	}

	result, err := s.deps.OnboardingSaga.Execute(r.Context(), input)
	if err != nil {
		s.writeDomainError(w, err, "onboarding failed")
		return
	}

	resp := createAccountResponse{
		AccountID:   result.Account.ID.String(),
		Email:       string(result.Account.Email),
		TrialUntil:  result.TrialUntil.UTC().Format(time.RFC3339),
		OnboardedAt: result.OnboardedAt.UTC().Format(time.RFC3339),
	}
	for _, child := range result.Account.Children {
		resp.ChildIDs = append(resp.ChildIDs, child.ID.String())
	}

	writeJSON(w, http.StatusCreated, resp)
}

// overrideRequest is the wire shape of an override change.
type overrideRequest struct {
	Grant     bool   `json:"grant"`
	Reason    string `json:"reason,omitempty"`
	GrantedBy string `json:"granted_by"`
}

// handleGrantOverride handles POST /api/v1/children/{childID}/override
//
// Support/QA tool: the override bypasses entitlement, prerequisite and
// cooldown gating but never rewrites the ledger.
func (s *Server) handleGrantOverride(w http.ResponseWriter, r *http.Request) {
	if s.deps.GrantOverrideHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Override handler not configured")
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}

	cmd := command.GrantOverrideCommand{
		ChildID:       r.PathValue("childID"),
		Grant:         req.Grant,
		Reason:        req.Reason,
		GrantedBy:     req.GrantedBy,
		CorrelationID: getRequestID(r.Context()),
	}

	result, err := s.deps.GrantOverrideHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, err, "failed to change override",
			logger.ChildID(cmd.ChildID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"child_id":         result.ChildID,
		"override_granted": result.OverrideGranted,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps a domain error to an HTTP status. A ledger read
// failure is a retryable 503, never a permissive or locked decision.
func (s *Server) writeDomainError(w http.ResponseWriter, err error, msg string, fields ...logger.Field) {
	switch {
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, shared.ErrUnknownNode):
		writeJSONError(w, http.StatusNotFound, "unknown_node", "No such story or week in the published curriculum")

	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())

	case shared.IsAlreadyExists(err):
		writeJSONError(w, http.StatusConflict, "already_exists", err.Error())

	case errors.Is(err, shared.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, shared.ErrLedgerUnavailable),
		errors.Is(err, shared.ErrPersistenceWrite),
		errors.Is(err, shared.ErrCurriculumNotSet):
		s.logger.Error(msg, append(fields, logger.Err(err))...)
		w.Header().Set("Retry-After", "5")
		writeJSONError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "Please retry shortly")

	default:
		s.logger.Error(msg, append(fields, logger.Err(err))...)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
