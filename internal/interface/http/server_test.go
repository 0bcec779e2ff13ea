package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/application/command"
	"github.com/fable-hub/fable-story-hub/internal/application/query"
	"github.com/fable-hub/fable-story-hub/internal/application/saga"
	"github.com/fable-hub/fable-story-hub/internal/domain/access"
	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/external/billing"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/service"
)

const (
	testChildID   = "0b6f2c1e-7f42-4b3d-9a11-2f5e8c4d6a90"
	testAccountID = "5f1d9c3a-8e27-4d60-b4f2-1a9c7e5d3b82"
	webhookSecret = "whsec_test"
)

var testNow = shared.NewInstant(time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC))

func testTree(t *testing.T) *curriculum.Tree {
	t.Helper()

	blocks := []*curriculum.Block{
		{
			ID: "block-1", Title: "Block One", Order: 1,
			Months: []*curriculum.Month{
				{
					ID: "month-1", Title: "Month One", Order: 1,
					Weeks: []*curriculum.Week{
						{
							ID: "week-a", Title: "Week A", Order: 1,
							RewardAssetKey: "rewards/week-a.mp4",
							Stories: []*curriculum.Story{
								{ID: "a1", Title: "Story A1", DaySlot: 1, AudioAssetKey: "audio/a1.mp3"},
								{ID: "a3", Title: "Story A3", DaySlot: 3, AudioAssetKey: "audio/a3.mp3"},
								{ID: "a5", Title: "Story A5", DaySlot: 5, AudioAssetKey: "audio/a5.mp3"},
							},
						},
					},
				},
			},
		},
	}

	tree, err := curriculum.NewTree(blocks, "v1", testNow.Time())
	require.NoError(t, err)
	return tree
}

type stubProvider struct {
	tree *curriculum.Tree
}

func (p stubProvider) Current() (*curriculum.Tree, error) {
	return p.tree, nil
}

type stubProgressRepo struct {
	err error
}

func (r stubProgressRepo) Snapshot(_ context.Context, childID shared.ChildID) (*progress.Ledger, error) {
	if r.err != nil {
		return nil, r.err
	}
	return progress.EmptyLedger(childID), nil
}

func (r stubProgressRepo) RecordCompletion(context.Context, shared.ChildID, shared.NodeID, shared.Instant, progress.ReplayPolicy) (progress.RecordOutcome, error) {
	if r.err != nil {
		return progress.RecordOutcome{}, r.err
	}
	return progress.RecordOutcome{Created: true, RecordedAt: testNow}, nil
}

func (r stubProgressRepo) LatestCompletion(context.Context, shared.ChildID) (progress.Entry, error) {
	return progress.Entry{}, shared.ErrEntryNotFound
}

func (r stubProgressRepo) ChildrenWithRecentCompletions(context.Context, shared.Instant, int) ([]shared.ChildID, error) {
	return nil, nil
}

type stubPolicyReader struct{}

func (stubPolicyReader) PolicyFor(context.Context, shared.ChildID, shared.Instant) (bool, bool, error) {
	return true, false, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

func testFamilyRepo() family.Repository {
	repo := &memFamilyRepo{
		accounts: make(map[shared.AccountID]*family.ParentAccount),
		children: make(map[shared.ChildID]*family.ChildProfile),
	}
	account := &family.ParentAccount{
		ID:    shared.AccountID(testAccountID),
		Email: shared.Email("parent@example.com"),
		Subscription: family.Subscription{
			State:     family.SubscriptionTrial,
			ExpiresAt: testNow.Time().Add(7 * 24 * time.Hour),
		},
		Children: []*family.ChildProfile{
			{ID: shared.ChildID(testChildID), AccountID: shared.AccountID(testAccountID), Name: "Mila"},
		},
	}
	repo.accounts[account.ID] = account
	for _, c := range account.Children {
		repo.children[c.ID] = c
	}
	return repo
}

// memFamilyRepo is a minimal in-memory family.Repository.
type memFamilyRepo struct {
	accounts map[shared.AccountID]*family.ParentAccount
	children map[shared.ChildID]*family.ChildProfile
}

func (r *memFamilyRepo) CreateAccount(_ context.Context, account *family.ParentAccount) error {
	r.accounts[account.ID] = account
	return nil
}

func (r *memFamilyRepo) GetAccount(_ context.Context, id shared.AccountID) (*family.ParentAccount, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, shared.ErrAccountNotFound
	}
	return a, nil
}

func (r *memFamilyRepo) GetAccountByEmail(_ context.Context, email shared.Email) (*family.ParentAccount, error) {
	for _, a := range r.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, shared.ErrAccountNotFound
}

func (r *memFamilyRepo) GetChild(_ context.Context, id shared.ChildID) (*family.ChildProfile, error) {
	c, ok := r.children[id]
	if !ok {
		return nil, shared.ErrProfileNotFound
	}
	return c, nil
}

func (r *memFamilyRepo) GetAccountByChild(_ context.Context, childID shared.ChildID) (*family.ParentAccount, error) {
	c, ok := r.children[childID]
	if !ok {
		return nil, shared.ErrProfileNotFound
	}
	return r.GetAccount(context.Background(), c.AccountID)
}

func (r *memFamilyRepo) UpdateSubscription(_ context.Context, id shared.AccountID, sub family.Subscription) error {
	a, ok := r.accounts[id]
	if !ok {
		return shared.ErrAccountNotFound
	}
	a.Subscription = sub
	return nil
}

func (r *memFamilyRepo) UpdateChild(_ context.Context, profile *family.ChildProfile) error {
	r.children[profile.ID] = profile
	return nil
}

func (r *memFamilyRepo) AccountsExpiringBefore(context.Context, shared.Instant, int) ([]*family.ParentAccount, error) {
	return nil, nil
}

func newTestServer(t *testing.T, progressRepo progress.Repository) *Server {
	t.Helper()

	provider := stubProvider{tree: testTree(t)}
	policy := stubPolicyReader{}
	evaluator := access.NewEvaluator(access.DefaultCooldown)
	rewardGate := access.NewRewardGate()
	clock := shared.FixedClock{Instant: testNow}

	billingConfig := billing.DefaultClientConfig("http://billing.test")
	billingConfig.WebhookSecret = webhookSecret

	config := DefaultConfig()
	config.RateLimitPerMinute = 0

	return NewServer(config, Dependencies{
		GetStoryAccessHandler:     query.NewGetStoryAccessHandler(provider, progressRepo, policy, evaluator, clock),
		GetWeekMapHandler:         query.NewGetWeekMapHandler(provider, progressRepo, policy, evaluator, rewardGate, clock),
		GetProgressSummaryHandler: query.NewGetProgressSummaryHandler(provider, progressRepo, clock),
		CompleteStoryHandler: command.NewCompleteStoryHandler(
			provider, progressRepo, policy, evaluator, rewardGate, nopPublisher{}, clock, progress.FirstWriteWins),
		SyncEntitlementHandler: command.NewSyncEntitlementHandler(testFamilyRepo(), nopPublisher{}, clock),
		GrantOverrideHandler:   command.NewGrantOverrideHandler(testFamilyRepo(), nopPublisher{}),
		OnboardingSaga: saga.NewFamilyOnboardingSaga(
			testFamilyRepo(), progressRepo, nil, nopPublisher{}, service.NewIDGenerator(), clock, saga.DefaultOnboardingConfig()),
		BillingClient: billing.NewClient(billingConfig),
	})
}

func doRequest(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *nethttp.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) JSONResponse {
	t.Helper()
	var resp JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// ─────────────────────────────────────────────────────────────────────────────
// Health endpoints
// ─────────────────────────────────────────────────────────────────────────────

func TestServer_HealthEndpoints(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	for _, path := range []string{"/health", "/healthz", "/ready", "/live"} {
		rec := doRequest(s, nethttp.MethodGet, path, "", nil)
		assert.Equal(t, nethttp.StatusOK, rec.Code, path)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Story access endpoint
// ─────────────────────────────────────────────────────────────────────────────

func TestServer_GetStoryAccess(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	rec := doRequest(s, nethttp.MethodGet, "/api/v1/children/"+testChildID+"/stories/a1/access", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	data, _ := resp.Data.(map[string]interface{})
	require.NotNil(t, data)
	assert.Equal(t, "available", data["state"])
}

func TestServer_GetStoryAccess_UnknownStory(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	rec := doRequest(s, nethttp.MethodGet, "/api/v1/children/"+testChildID+"/stories/no-such-story/access", "", nil)
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unknown_node", resp.Error.Code)
}

func TestServer_GetStoryAccess_InvalidChildID(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	rec := doRequest(s, nethttp.MethodGet, "/api/v1/children/not-a-uuid/stories/a1/access", "", nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestServer_GetStoryAccess_LedgerUnavailable(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{err: shared.ErrLedgerUnavailable})

	rec := doRequest(s, nethttp.MethodGet, "/api/v1/children/"+testChildID+"/stories/a1/access", "", nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

// ─────────────────────────────────────────────────────────────────────────────
// Week map and progress endpoints
// ─────────────────────────────────────────────────────────────────────────────

func TestServer_GetWeekMap(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	rec := doRequest(s, nethttp.MethodGet, "/api/v1/children/"+testChildID+"/weeks/week-a/map", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
}

func TestServer_GetProgress(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	rec := doRequest(s, nethttp.MethodGet, "/api/v1/children/"+testChildID+"/progress", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
}

// ─────────────────────────────────────────────────────────────────────────────
// Completion endpoint
// ─────────────────────────────────────────────────────────────────────────────

func TestServer_CompleteStory(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	rec := doRequest(s, nethttp.MethodPost, "/api/v1/children/"+testChildID+"/stories/a1/complete", "", nil)
	require.Equal(t, nethttp.StatusCreated, rec.Code, rec.Body.String())
}

// ─────────────────────────────────────────────────────────────────────────────
// API key middleware
// ─────────────────────────────────────────────────────────────────────────────

func TestServer_APIKeyRequired(t *testing.T) {
	provider := stubProvider{tree: testTree(t)}
	clock := shared.FixedClock{Instant: testNow}

	config := DefaultConfig()
	config.RateLimitPerMinute = 0
	config.APIKeys = []string{"secret-key"}

	s := NewServer(config, Dependencies{
		GetStoryAccessHandler: query.NewGetStoryAccessHandler(
			provider, stubProgressRepo{}, stubPolicyReader{}, access.NewEvaluator(access.DefaultCooldown), clock),
	})

	path := "/api/v1/children/" + testChildID + "/stories/a1/access"

	rec := doRequest(s, nethttp.MethodGet, path, "", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)

	rec = doRequest(s, nethttp.MethodGet, path, "", map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, nethttp.StatusOK, rec.Code)

	// Health stays open.
	rec = doRequest(s, nethttp.MethodGet, "/health", "", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Billing webhook
// ─────────────────────────────────────────────────────────────────────────────

func webhookPayload(t *testing.T, eventType, status string) string {
	t.Helper()
	periodEnd := testNow.Time().Add(30 * 24 * time.Hour)
	payload, err := json.Marshal(map[string]interface{}{
		"id":         "evt_1",
		"type":       eventType,
		"created_at": testNow.Time(),
		"subscription": map[string]interface{}{
			"id":                 "sub_1",
			"customer_ref":       "cus_1",
			"account_id":         testAccountID,
			"status":             status,
			"current_period_end": periodEnd,
		},
	})
	require.NoError(t, err)
	return string(payload)
}

func TestServer_BillingWebhook(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	body := webhookPayload(t, billing.EventSubscriptionUpdated, billing.StatusActive)
	rec := doRequest(s, nethttp.MethodPost, "/api/v1/webhooks/billing", body, map[string]string{
		SignatureHeader: billing.SignPayload([]byte(body), webhookSecret),
	})
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	data, _ := resp.Data.(map[string]interface{})
	require.NotNil(t, data)
	assert.Equal(t, "processed", data["status"])
	assert.Equal(t, true, data["changed"])
	assert.Equal(t, "active", data["new_state"])
}

func TestServer_BillingWebhook_BadSignature(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	body := webhookPayload(t, billing.EventSubscriptionUpdated, billing.StatusActive)
	rec := doRequest(s, nethttp.MethodPost, "/api/v1/webhooks/billing", body, map[string]string{
		SignatureHeader: "deadbeef",
	})
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)
}

func TestServer_BillingWebhook_UnknownEventTypeAcked(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	body := webhookPayload(t, "invoice.finalized", billing.StatusActive)
	rec := doRequest(s, nethttp.MethodPost, "/api/v1/webhooks/billing", body, map[string]string{
		SignatureHeader: billing.SignPayload([]byte(body), webhookSecret),
	})
	require.Equal(t, nethttp.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	data, _ := resp.Data.(map[string]interface{})
	require.NotNil(t, data)
	assert.Equal(t, "ignored", data["status"])
}

// ─────────────────────────────────────────────────────────────────────────────
// Account signup endpoint
// ─────────────────────────────────────────────────────────────────────────────

func TestServer_CreateAccount(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	body := `{"email":"new.parent@example.com","password":"correct-horse","display_name":"Dana","children":[{"name":"Theo","birth_year":2020}]}`
	rec := doRequest(s, nethttp.MethodPost, "/api/v1/accounts", body, nil)
	require.Equal(t, nethttp.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	data, _ := resp.Data.(map[string]interface{})
	require.NotNil(t, data)
	assert.NotEmpty(t, data["account_id"])
	assert.Equal(t, "new.parent@example.com", data["email"])
	assert.Len(t, data["child_ids"], 1)
	assert.NotEmpty(t, data["trial_until"])
}

func TestServer_CreateAccount_DuplicateEmail(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	body := `{"email":"twice@example.com","password":"correct-horse","children":[{"name":"Theo"}]}`
	rec := doRequest(s, nethttp.MethodPost, "/api/v1/accounts", body, nil)
	require.Equal(t, nethttp.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(s, nethttp.MethodPost, "/api/v1/accounts", body, nil)
	require.Equal(t, nethttp.StatusConflict, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "already_exists", resp.Error.Code)
}

func TestServer_CreateAccount_WeakPassword(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	body := `{"email":"short@example.com","password":"short","children":[{"name":"Theo"}]}`
	rec := doRequest(s, nethttp.MethodPost, "/api/v1/accounts", body, nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestServer_CreateAccount_MalformedBody(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	rec := doRequest(s, nethttp.MethodPost, "/api/v1/accounts", "{not json", nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Override endpoint
// ─────────────────────────────────────────────────────────────────────────────

func TestServer_GrantOverride(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	body := `{"grant":true,"reason":"support ticket 4521","granted_by":"admin-1"}`
	rec := doRequest(s, nethttp.MethodPost, "/api/v1/children/"+testChildID+"/override", body, nil)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	data, _ := resp.Data.(map[string]interface{})
	require.NotNil(t, data)
	assert.Equal(t, true, data["override_granted"])
}

func TestServer_GrantOverride_MissingReason(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	body := `{"grant":true,"granted_by":"admin-1"}`
	rec := doRequest(s, nethttp.MethodPost, "/api/v1/children/"+testChildID+"/override", body, nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestServer_GrantOverride_UnknownChild(t *testing.T) {
	s := newTestServer(t, stubProgressRepo{})

	body := `{"grant":false,"granted_by":"admin-1"}`
	rec := doRequest(s, nethttp.MethodPost, "/api/v1/children/"+testAccountID+"/override", body, nil)
	assert.Equal(t, nethttp.StatusNotFound, rec.Code, rec.Body.String())
}
