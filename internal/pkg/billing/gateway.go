package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/replyhub/replyhub/internal/pkg/env"
)

const defaultGatewayBaseURL = "https://api.paygrid.example.com/v1"

// Gateway is the payment gateway surface the billing core depends on. Every
// call accepts a client-supplied idempotency key so that retries after a
// timeout are safe.
type Gateway interface {
	CreatePlanChange(ctx context.Context, req PlanChangeRequest) (*GatewaySubscription, error)
	CancelSubscription(ctx context.Context, subscriptionRef, idempotencyKey string) error
	ReactivateSubscription(ctx context.Context, req ReactivateRequest) (*GatewaySubscription, error)
	CreateRefund(ctx context.Context, req GatewayRefundRequest) (*GatewayRefund, error)
	RetrieveCharge(ctx context.Context, chargeRef string) (*GatewayCharge, error)
}

// PlanChangeRequest asks the gateway to move a subscription to a new plan,
// applying the given proration amount immediately.
type PlanChangeRequest struct {
	SubscriptionRef string `json:"subscription_ref"`
	PlanCode        string `json:"plan_code"`
	ProrationCents  int64  `json:"proration_cents"`
	Currency        string `json:"currency"`
	IdempotencyKey  string `json:"-"`
}

// ReactivateRequest re-establishes a gateway subscription for a previously
// canceled customer.
type ReactivateRequest struct {
	CustomerRef    string `json:"customer_ref"`
	PlanCode       string `json:"plan_code"`
	IdempotencyKey string `json:"-"`
}

// GatewayRefundRequest creates a refund against a charge.
type GatewayRefundRequest struct {
	ChargeRef      string `json:"charge_ref"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"-"`
}

// GatewaySubscription is the gateway-native view of a subscription.
type GatewaySubscription struct {
	SubscriptionRef    string     `json:"subscription_ref"`
	CustomerRef        string     `json:"customer_ref"`
	PlanCode           string     `json:"plan_code"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
}

// GatewayRefund is the gateway's confirmation of a refund.
type GatewayRefund struct {
	RefundRef   string `json:"refund_ref"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
}

// GatewayCharge is the authoritative charge state, including how much has
// already been refunded.
type GatewayCharge struct {
	ChargeRef           string `json:"charge_ref"`
	AmountCents         int64  `json:"amount_cents"`
	AmountRefundedCents int64  `json:"amount_refunded_cents"`
	Currency            string `json:"currency"`
}

// RemainingRefundableCents is the amount still refundable on this charge.
func (c *GatewayCharge) RemainingRefundableCents() int64 {
	remaining := c.AmountCents - c.AmountRefundedCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HTTPGateway talks to the payment gateway's REST API.
type HTTPGateway struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewGatewayFromEnv builds the gateway client from environment configuration.
func NewGatewayFromEnv() *HTTPGateway {
	return &HTTPGateway{
		APIKey:  strings.TrimSpace(env.GetEnv("BILLING_GATEWAY_API_KEY", "")),
		BaseURL: strings.TrimRight(env.GetEnv("BILLING_GATEWAY_BASE_URL", defaultGatewayBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (g *HTTPGateway) CreatePlanChange(ctx context.Context, req PlanChangeRequest) (*GatewaySubscription, error) {
	if strings.TrimSpace(req.SubscriptionRef) == "" || strings.TrimSpace(req.PlanCode) == "" {
		return nil, NewValidationError("subscription ref and plan code are required")
	}
	var out GatewaySubscription
	path := fmt.Sprintf("/subscriptions/%s/plan", req.SubscriptionRef)
	if err := g.do(ctx, http.MethodPost, path, req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *HTTPGateway) CancelSubscription(ctx context.Context, subscriptionRef, idempotencyKey string) error {
	if strings.TrimSpace(subscriptionRef) == "" {
		return NewValidationError("subscription ref is required")
	}
	path := fmt.Sprintf("/subscriptions/%s/cancel", subscriptionRef)
	return g.do(ctx, http.MethodPost, path, idempotencyKey, nil, nil)
}

func (g *HTTPGateway) ReactivateSubscription(ctx context.Context, req ReactivateRequest) (*GatewaySubscription, error) {
	if strings.TrimSpace(req.CustomerRef) == "" || strings.TrimSpace(req.PlanCode) == "" {
		return nil, NewValidationError("customer ref and plan code are required")
	}
	var out GatewaySubscription
	if err := g.do(ctx, http.MethodPost, "/subscriptions", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *HTTPGateway) CreateRefund(ctx context.Context, req GatewayRefundRequest) (*GatewayRefund, error) {
	if strings.TrimSpace(req.ChargeRef) == "" {
		return nil, NewValidationError("charge ref is required")
	}
	var out GatewayRefund
	if err := g.do(ctx, http.MethodPost, "/refunds", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *HTTPGateway) RetrieveCharge(ctx context.Context, chargeRef string) (*GatewayCharge, error) {
	if strings.TrimSpace(chargeRef) == "" {
		return nil, NewValidationError("charge ref is required")
	}
	var out GatewayCharge
	path := fmt.Sprintf("/charges/%s", chargeRef)
	if err := g.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do executes one gateway request. 4xx responses become non-retryable
// gateway errors, 5xx and transport failures retryable ones.
func (g *HTTPGateway) do(ctx context.Context, method, path, idempotencyKey string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return NewValidationError("gateway request encoding failed: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, body)
	if err != nil {
		return NewValidationError("gateway request build failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(idempotencyKey) != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return NewGatewayError("gateway call canceled before completion", true, err)
		}
		return NewGatewayError("gateway unreachable", true, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fallthrough to decode
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return NewGatewayError(
			fmt.Sprintf("gateway rejected %s %s: status=%d body=%s", method, path, resp.StatusCode, string(respBody)),
			false, nil)
	default:
		return NewGatewayError(
			fmt.Sprintf("gateway failed %s %s: status=%d", method, path, resp.StatusCode),
			true, nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return NewGatewayError("gateway returned malformed response", false, err)
	}
	return nil
}
