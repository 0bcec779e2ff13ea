package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

func TestSubscriptionDTO_Parsing(t *testing.T) {
	jsonData := `{
    "id": "sub_9f2c1b",
    "customer_ref": "cus_4471",
    "account_id": "7ed99bd0-87b2-4dbb-a97b-596c3f29c49b",
    "status": "trialing",
    "plan": "family-monthly",
    "trial_end": "2026-09-14T00:00:00Z",
    "created_at": "2026-08-31T10:00:00Z",
    "updated_at": "2026-08-31T10:00:00Z"
}`

	var dto SubscriptionDTO
	err := json.Unmarshal([]byte(jsonData), &dto)
	assert.NoError(t, err)

	assert.Equal(t, "sub_9f2c1b", dto.ID)
	assert.Equal(t, "cus_4471", dto.CustomerRef)
	assert.Equal(t, StatusTrialing, dto.Status)
	require.NotNil(t, dto.TrialEnd)
	assert.Equal(t, 14, dto.TrialEnd.Day())
	assert.Nil(t, dto.CurrentPeriodEnd)
}

func TestMapper_StateFromStatus(t *testing.T) {
	mapper := NewMapper()

	tests := []struct {
		status string
		want   family.SubscriptionState
	}{
		{StatusTrialing, family.SubscriptionTrial},
		{StatusActive, family.SubscriptionActive},
		{StatusPastDue, family.SubscriptionLapsed},
		{StatusUnpaid, family.SubscriptionLapsed},
		{StatusExpired, family.SubscriptionLapsed},
		{StatusCanceled, family.SubscriptionCanceled},
	}

	for _, tt := range tests {
		state, err := mapper.StateFromStatus(tt.status)
		require.NoError(t, err, tt.status)
		assert.Equal(t, tt.want, state, tt.status)
	}

	_, err := mapper.StateFromStatus("paused")
	assert.ErrorIs(t, err, shared.ErrBillingInvalidResponse)
}

func TestMapper_SubscriptionFromDTO(t *testing.T) {
	mapper := NewMapper()
	syncedAt := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	trialEnd := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

	t.Run("active uses period end", func(t *testing.T) {
		sub, err := mapper.SubscriptionFromDTO(&SubscriptionDTO{
			ID:               "sub_1",
			Status:           StatusActive,
			CurrentPeriodEnd: &periodEnd,
		}, syncedAt)
		require.NoError(t, err)

		assert.Equal(t, family.SubscriptionActive, sub.State)
		assert.Equal(t, periodEnd, sub.ExpiresAt)
		assert.Equal(t, "sub_1", sub.ProviderRef)
		assert.Equal(t, syncedAt, sub.SyncedAt)
	})

	t.Run("trial uses trial end", func(t *testing.T) {
		sub, err := mapper.SubscriptionFromDTO(&SubscriptionDTO{
			ID:       "sub_2",
			Status:   StatusTrialing,
			TrialEnd: &trialEnd,
		}, syncedAt)
		require.NoError(t, err)

		assert.Equal(t, family.SubscriptionTrial, sub.State)
		assert.Equal(t, trialEnd, sub.ExpiresAt)
	})

	t.Run("canceled keeps period end", func(t *testing.T) {
		sub, err := mapper.SubscriptionFromDTO(&SubscriptionDTO{
			ID:               "sub_3",
			Status:           StatusCanceled,
			CurrentPeriodEnd: &periodEnd,
		}, syncedAt)
		require.NoError(t, err)

		assert.Equal(t, family.SubscriptionCanceled, sub.State)
		assert.Equal(t, periodEnd, sub.ExpiresAt)
	})

	t.Run("lapsed has no expiry", func(t *testing.T) {
		sub, err := mapper.SubscriptionFromDTO(&SubscriptionDTO{
			ID:               "sub_4",
			Status:           StatusUnpaid,
			CurrentPeriodEnd: &periodEnd,
		}, syncedAt)
		require.NoError(t, err)

		assert.Equal(t, family.SubscriptionLapsed, sub.State)
		assert.True(t, sub.ExpiresAt.IsZero())
	})
}

func TestClient_VerifySignature(t *testing.T) {
	config := DefaultClientConfig("http://billing.test")
	config.WebhookSecret = "whsec_test"
	client := NewClient(config)

	payload := []byte(`{"id":"evt_1","type":"subscription.updated"}`)
	signature := SignPayload(payload, "whsec_test")

	assert.NoError(t, client.VerifySignature(payload, signature))
	assert.NoError(t, client.VerifySignature(payload, "  "+signature+"\n"))

	err := client.VerifySignature(payload, SignPayload(payload, "wrong-secret"))
	assert.ErrorIs(t, err, shared.ErrWebhookSignature)

	err = client.VerifySignature([]byte(`{"id":"evt_2"}`), signature)
	assert.ErrorIs(t, err, shared.ErrWebhookSignature)
}

func TestClient_VerifySignature_NoSecret(t *testing.T) {
	client := NewClient(DefaultClientConfig("http://billing.test"))

	payload := []byte(`{}`)
	err := client.VerifySignature(payload, SignPayload(payload, ""))
	assert.ErrorIs(t, err, shared.ErrWebhookSignature)
}

func TestClient_ParseWebhookEvent(t *testing.T) {
	config := DefaultClientConfig("http://billing.test")
	config.WebhookSecret = "whsec_test"
	client := NewClient(config)

	payload := []byte(`{
		"id": "evt_42",
		"type": "subscription.canceled",
		"created_at": "2026-08-31T09:00:00Z",
		"subscription": {"id": "sub_9", "status": "canceled"}
	}`)
	signature := SignPayload(payload, "whsec_test")

	event, err := client.ParseWebhookEvent(payload, signature)
	require.NoError(t, err)
	assert.Equal(t, "evt_42", event.ID)
	assert.Equal(t, EventSubscriptionCanceled, event.Type)
	assert.Equal(t, "sub_9", event.Subscription.ID)

	_, err = client.ParseWebhookEvent(payload, "deadbeef")
	assert.ErrorIs(t, err, shared.ErrWebhookSignature)

	garbage := []byte(`{not json`)
	_, err = client.ParseWebhookEvent(garbage, SignPayload(garbage, "whsec_test"))
	assert.ErrorIs(t, err, shared.ErrBillingInvalidResponse)

	missing := []byte(`{"type":"subscription.updated"}`)
	_, err = client.ParseWebhookEvent(missing, SignPayload(missing, "whsec_test"))
	assert.ErrorIs(t, err, shared.ErrBillingInvalidResponse)
}

func TestClient_GetSubscription(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/subscriptions/sub_9f2c1b", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SubscriptionDTO{
			ID:          "sub_9f2c1b",
			CustomerRef: "cus_4471",
			Status:      StatusActive,
		})
	}))
	defer server.Close()

	config := DefaultClientConfig(server.URL)
	config.APIKey = "sk_test_123"
	client := NewClient(config)

	dto, err := client.GetSubscription(context.Background(), "sub_9f2c1b")
	require.NoError(t, err)
	assert.Equal(t, "sub_9f2c1b", dto.ID)
	assert.Equal(t, StatusActive, dto.Status)
	assert.Equal(t, "Bearer sk_test_123", gotAuth)
}

func TestClient_GetSubscription_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": "not_found", "message": "no such subscription"},
		})
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL))

	_, err := client.GetSubscription(context.Background(), "sub_missing")
	require.Error(t, err)

	var apiErr *APIErrorDTO
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	// An answer from the provider is not an outage.
	assert.Equal(t, "closed", client.Status().CircuitState.String())
}

func TestClient_GetSubscription_ServerErrorRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SubscriptionDTO{ID: "sub_1", Status: StatusActive})
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL))

	dto, err := client.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", dto.ID)
	assert.Equal(t, 3, attempts)
}
