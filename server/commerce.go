package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// commerceAPIVersion pins the hosted-checkout provider API version.
const commerceAPIVersion = "2018-03-22"

// ErrChargeNotFound means the charge id is unknown to the provider;
// the caller supplied a bad reference and retrying will not help.
var ErrChargeNotFound = errors.New("unknown charge id")

// ChargeUnpaidError means the charge exists but its timeline shows no
// completed payment yet. It carries the latest known status so the
// caller can decide to retry after finishing checkout.
type ChargeUnpaidError struct {
	Status string
}

func (e *ChargeUnpaidError) Error() string {
	return fmt.Sprintf("payment not completed (status: %s)", e.Status)
}

// TimelineEvent is one status transition in a charge's lifecycle
type TimelineEvent struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// Charge is a hosted-checkout charge as reported by the provider
type Charge struct {
	ID        string            `json:"id"`
	Code      string            `json:"code"`
	HostedURL string            `json:"hosted_url"`
	ExpiresAt time.Time         `json:"expires_at"`
	Timeline  []TimelineEvent   `json:"timeline"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Paid reports whether the charge's timeline contains a completed
// payment. Later events appended after completion do not unpay it.
func (c *Charge) Paid() bool {
	for _, ev := range c.Timeline {
		if ev.Status == "COMPLETED" || ev.Status == "RESOLVED" {
			return true
		}
	}
	return false
}

// LatestStatus returns the most recent timeline status, or "UNKNOWN"
func (c *Charge) LatestStatus() string {
	if len(c.Timeline) == 0 {
		return "UNKNOWN"
	}
	return c.Timeline[len(c.Timeline)-1].Status
}

// CommerceClient talks to a Coinbase-Commerce-compatible charge API
type CommerceClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCommerceClient creates a hosted-checkout client
func NewCommerceClient(baseURL, apiKey string) *CommerceClient {
	return &CommerceClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configured reports whether provider credentials are present
func (c *CommerceClient) Configured() bool {
	return c.apiKey != ""
}

type createChargeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  localPrice        `json:"local_price"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type localPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type chargeEnvelope struct {
	Data Charge `json:"data"`
}

// CreateCharge creates a fixed-price charge and returns the hosted
// checkout session. metadata is attached verbatim plus a generated
// session id for correlation.
func (c *CommerceClient) CreateCharge(ctx context.Context, name, description, priceUSD string, metadata map[string]string) (*Charge, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: commerce API key missing", ErrNotConfigured)
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["session_id"] = uuid.NewString()

	body, err := json.Marshal(createChargeRequest{
		Name:        name,
		Description: description,
		PricingType: "fixed_price",
		LocalPrice:  localPrice{Amount: priceUSD, Currency: "USD"},
		Metadata:    meta,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create charge request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create charge failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create charge failed with status %d: %s", resp.StatusCode, bodyBytes)
	}

	var envelope chargeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}

	return &envelope.Data, nil
}

// GetCharge fetches a charge by id. Unknown ids map to ErrChargeNotFound.
func (c *CommerceClient) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: commerce API key missing", ErrNotConfigured)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/charges/"+chargeID, nil)
	if err != nil {
		return nil, fmt.Errorf("create charge lookup: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("charge lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s", ErrChargeNotFound, chargeID)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("charge lookup failed with status %d: %s", resp.StatusCode, bodyBytes)
	}

	var envelope chargeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}

	return &envelope.Data, nil
}

// VerifyPaid fetches a charge and checks its timeline for a completed
// payment. This is a pure read: nothing is consumed or recorded.
func (c *CommerceClient) VerifyPaid(ctx context.Context, chargeID string) (*Charge, error) {
	charge, err := c.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}

	if !charge.Paid() {
		return nil, &ChargeUnpaidError{Status: charge.LatestStatus()}
	}

	return charge, nil
}

func (c *CommerceClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CC-Api-Key", c.apiKey)
	req.Header.Set("X-CC-Version", commerceAPIVersion)
}
