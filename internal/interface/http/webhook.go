// Package http implements the REST API and webhook endpoints for Fable Story Hub.
package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/fable-hub/fable-story-hub/internal/application/command"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/external/billing"
	"github.com/fable-hub/fable-story-hub/pkg/logger"
)

// SignatureHeader is the header the billing provider sends the HMAC digest in.
const SignatureHeader = "X-Billing-Signature"

// maxWebhookBodyBytes caps the webhook payload size.
const maxWebhookBodyBytes = 1 << 20 // 1 MB

// ══════════════════════════════════════════════════════════════════════════════
// BILLING WEBHOOK
// ══════════════════════════════════════════════════════════════════════════════

// handleBillingWebhook handles POST /api/v1/webhooks/billing
//
// The provider redelivers until it sees a 2xx, so every outcome that retrying
// cannot fix is acknowledged: bad signatures get 401 (a config problem the
// retry won't fix either, but we must not ack forged requests), unknown event
// types and payloads get 200 so redelivery stops.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.BillingClient == nil || s.deps.SyncEntitlementHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Billing webhook not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	event, err := s.deps.BillingClient.ParseWebhookEvent(body, r.Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, shared.ErrWebhookSignature) {
			s.logger.Warn("billing webhook signature mismatch",
				logger.String("ip", getClientIP(r)),
				logger.String("request_id", getRequestID(r.Context())),
			)
			writeJSONError(w, http.StatusUnauthorized, "invalid_signature", "Webhook signature mismatch")
			return
		}
		s.logger.Warn("undecodable billing webhook", logger.Err(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	switch event.Type {
	case billing.EventSubscriptionCreated,
		billing.EventSubscriptionUpdated,
		billing.EventSubscriptionCanceled,
		billing.EventPaymentFailed:
	default:
		s.logger.Debug("ignoring billing event", logger.String("type", event.Type))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if event.Subscription.AccountID == "" {
		// Subscription never linked to an account (abandoned checkout).
		s.logger.Warn("billing event without account id",
			logger.String("event_id", event.ID),
			logger.String("provider_ref", event.Subscription.ID),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	sub, err := s.deps.BillingClient.Mapper().SubscriptionFromDTO(&event.Subscription, event.CreatedAt)
	if err != nil {
		s.logger.Warn("unmappable billing subscription",
			logger.String("event_id", event.ID),
			logger.Err(err),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	cmd := command.SyncEntitlementCommand{
		AccountID:     event.Subscription.AccountID,
		State:         string(sub.State),
		ExpiresAt:     sub.ExpiresAt,
		ProviderRef:   sub.ProviderRef,
		Source:        command.SourceWebhook,
		CorrelationID: event.ID,
	}

	result, err := s.deps.SyncEntitlementHandler.Handle(r.Context(), cmd)
	if err != nil {
		if shared.IsNotFound(err) {
			// The account is gone; redelivery cannot fix that.
			s.logger.Warn("billing event for unknown account",
				logger.AccountID(cmd.AccountID),
				logger.String("event_id", event.ID),
			)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		s.logger.Error("failed to sync entitlement from webhook",
			logger.AccountID(cmd.AccountID),
			logger.String("event_id", event.ID),
			logger.Err(err),
		)
		// 5xx makes the provider redeliver; the sync is idempotent.
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to apply subscription update")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "processed",
		"event_id":  event.ID,
		"changed":   result.Changed,
		"new_state": result.NewState,
	})
}
