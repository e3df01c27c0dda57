package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/agentverse/fortune-x402"
)

// Facilitator verifies and settles signed payments. The production
// implementation talks to an external facilitator service; the local
// one recovers signatures in process for development and tests.
type Facilitator interface {
	Verify(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*VerifyResponse, error)
	Settle(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*SettleResponse, error)
	GetSupported(ctx context.Context) ([]SupportedKind, error)
}

// HTTPFacilitator implements Facilitator against a remote HTTP API
type HTTPFacilitator struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPFacilitator creates a new HTTP-based facilitator client.
// token is optional bearer credentials for hosted facilitators.
func NewHTTPFacilitator(baseURL, token string) *HTTPFacilitator {
	return &HTTPFacilitator{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (f *HTTPFacilitator) Verify(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*VerifyResponse, error) {
	req := &VerifyRequest{
		X402Version:         1,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	}

	var verifyResp VerifyResponse
	if err := f.post(ctx, "/verify", req, &verifyResp); err != nil {
		return nil, err
	}
	return &verifyResp, nil
}

func (f *HTTPFacilitator) Settle(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*SettleResponse, error) {
	req := &SettleRequest{
		X402Version:         1,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	}

	var settleResp SettleResponse
	if err := f.post(ctx, "/settle", req, &settleResp); err != nil {
		return nil, err
	}
	return &settleResp, nil
}

func (f *HTTPFacilitator) GetSupported(ctx context.Context) ([]SupportedKind, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("create supported request: %w", err)
	}
	f.setHeaders(httpReq)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("supported request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supported failed with status %d", resp.StatusCode)
	}

	var result struct {
		Kinds []SupportedKind `json:"kinds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode supported response: %w", err)
	}

	return result.Kinds, nil
}

func (f *HTTPFacilitator) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	f.setHeaders(httpReq)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, bodyBytes)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (f *HTTPFacilitator) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
}
