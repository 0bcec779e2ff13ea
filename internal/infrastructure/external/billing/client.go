package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
	"github.com/fable-hub/fable-story-hub/pkg/circuitbreaker"
	"github.com/fable-hub/fable-story-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the billing API client.
type ClientConfig struct {
	// BaseURL is the billing provider API base URL
	BaseURL string

	// APIKey is the secret API key sent as a Bearer token
	APIKey string

	// WebhookSecret is the shared secret used to verify webhook signatures
	WebhookSecret string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting
	RateLimiterConfig RateLimiterConfig

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging of every request
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           15 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the billing-provider API client. Requests pass through a circuit
// breaker and a token-bucket rate limiter, and transient failures are retried
// with exponential backoff.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
	mapper      *Mapper
}

// NewClient creates a new billing API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger
	breaker := circuitbreaker.New(
		"billing-api",
		circuitbreaker.WithFailureThreshold(3),
		circuitbreaker.WithSuccessThreshold(2),
		circuitbreaker.WithTimeout(60*time.Second),
		circuitbreaker.WithMaxHalfOpenRequests(1),
		// Only availability-class errors trip the circuit. A 404 for a
		// deleted subscription is an answer, not an outage.
		circuitbreaker.WithIsFailure(func(err error) bool {
			return errors.Is(err, shared.ErrBillingUnavailable) ||
				errors.Is(err, shared.ErrBillingTimeout) ||
				errors.Is(err, shared.ErrBillingRateLimited)
		}),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warn("billing circuit state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		}),
	)

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     breaker,
		retrier:     retry.BillingRetrier(),
		mapper:      NewMapper(),
	}
}

// Mapper returns the DTO-to-domain mapper.
func (c *Client) Mapper() *Mapper {
	return c.mapper
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetSubscription fetches a subscription by the provider's id. Used by the
// entitlement sweep to re-confirm state before lapsing an account whose
// expiry may just be a missed renewal webhook.
func (c *Client) GetSubscription(ctx context.Context, providerRef string) (*SubscriptionDTO, error) {
	path := fmt.Sprintf("/v1/subscriptions/%s", url.PathEscape(providerRef))

	var dto SubscriptionDTO
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &dto); err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", providerRef, err)
	}

	return &dto, nil
}

// ListSubscriptionsByAccount fetches subscriptions tagged with our account id
// in checkout metadata.
func (c *Client) ListSubscriptionsByAccount(ctx context.Context, accountID string) ([]SubscriptionDTO, error) {
	params := url.Values{}
	params.Set("account_id", accountID)

	var result struct {
		Data []SubscriptionDTO `json:"data"`
	}
	path := "/v1/subscriptions?" + params.Encode()
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("list subscriptions for account %s: %w", accountID, err)
	}

	return result.Data, nil
}

// CancelSubscription requests cancellation at period end.
func (c *Client) CancelSubscription(ctx context.Context, providerRef string) (*SubscriptionDTO, error) {
	path := fmt.Sprintf("/v1/subscriptions/%s/cancel", url.PathEscape(providerRef))

	body := map[string]interface{}{"at_period_end": true}
	var dto SubscriptionDTO
	if err := c.doRequest(ctx, http.MethodPost, path, body, &dto); err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", providerRef, err)
	}

	return &dto, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK VERIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// VerifySignature checks the webhook signature header against the raw request
// body. The provider signs the body with HMAC-SHA256 over the shared secret
// and sends the hex digest.
func (c *Client) VerifySignature(payload []byte, signature string) error {
	if c.config.WebhookSecret == "" {
		return fmt.Errorf("webhook secret not configured: %w", shared.ErrWebhookSignature)
	}

	expected := SignPayload(payload, c.config.WebhookSecret)
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return shared.ErrWebhookSignature
	}
	return nil
}

// ParseWebhookEvent verifies the signature and decodes the event envelope.
func (c *Client) ParseWebhookEvent(payload []byte, signature string) (*WebhookEventDTO, error) {
	if err := c.VerifySignature(payload, signature); err != nil {
		return nil, err
	}

	var event WebhookEventDTO
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook: %v: %w", err, shared.ErrBillingInvalidResponse)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("webhook missing id or type: %w", shared.ErrBillingInvalidResponse)
	}

	return &event, nil
}

// SignPayload computes the hex HMAC-SHA256 digest the provider sends in the
// signature header.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs an HTTP request with rate limiting, circuit breaking,
// and retries.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %v: %w", err, shared.ErrBillingRateLimited))
			}
			return c.doSingleRequest(ctx, method, path, body, result)
		})
	})
}

// doSingleRequest performs a single HTTP request and classifies the outcome
// for the retry layer.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal body: %w", err))
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.Debug {
		c.logger.Debug("billing api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return retry.Retryable(fmt.Errorf("%v: %w", err, shared.ErrBillingTimeout))
		}
		return retry.Retryable(fmt.Errorf("%v: %w", err, shared.ErrBillingUnavailable))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %v: %w", err, shared.ErrBillingUnavailable))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 30 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		c.rateLimiter.RecordRateLimitHit(retryAfter)
		return retry.Retryable(shared.ErrBillingRateLimited)
	}

	if resp.StatusCode >= 500 {
		return retry.Retryable(fmt.Errorf("status %d: %w", resp.StatusCode, shared.ErrBillingUnavailable))
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIErrorDTO{StatusCode: resp.StatusCode}
		var envelope struct {
			Error APIErrorDTO `json:"error"`
		}
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error.Message != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Code = "unknown"
			apiErr.Message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return retry.Permanent(apiErr)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %v: %w", err, shared.ErrBillingInvalidResponse))
		}
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks if the billing API is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	err := c.doSingleRequest(ctx, http.MethodGet, "/v1/health", nil, nil)
	return err == nil
}

// ClientStatus contains the current status of the client.
type ClientStatus struct {
	RateLimiter   RateLimiterStatus
	CircuitState  circuitbreaker.State
	CircuitCounts circuitbreaker.Counts
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:   c.rateLimiter.Status(),
		CircuitState:  c.breaker.State(),
		CircuitCounts: c.breaker.Counts(),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
