package x402

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 2 * time.Minute

// PaymentRequirementsHeader carries the base64 JSON 402 challenge.
const PaymentRequirementsHeader = "Payment-Requirements"

// PaymentHeader carries the base64 JSON signed payment on the retry.
const PaymentHeader = "X-PAYMENT"

// PaymentResponseHeader carries the base64 JSON settlement receipt.
const PaymentResponseHeader = "X-PAYMENT-RESPONSE"

// Client is an HTTP client that transparently handles x402 payment
// challenges: a 402 response is answered by signing the advertised
// requirements and retrying once with the payment attached.
type Client struct {
	httpClient *http.Client
	handler    *PaymentHandler

	// Event callbacks
	onPaymentAttempt func(PaymentEvent)
	onPaymentSuccess func(PaymentEvent)
	onPaymentFailure func(PaymentEvent, error)

	// Testing support
	recorder *PaymentRecorder
}

// ClientConfig configures the Client
type ClientConfig struct {
	Signer           PaymentSigner
	Handler          *HandlerConfig
	HTTPClient       *http.Client
	OnPaymentAttempt func(PaymentEvent)
	OnPaymentSuccess func(PaymentEvent)
	OnPaymentFailure func(PaymentEvent, error)
}

// NewClient creates a new payment-aware HTTP client
func NewClient(config ClientConfig) (*Client, error) {
	handler, err := NewPaymentHandler(config.Signer, config.Handler)
	if err != nil {
		return nil, err
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{
		httpClient:       httpClient,
		handler:          handler,
		onPaymentAttempt: config.OnPaymentAttempt,
		onPaymentSuccess: config.OnPaymentSuccess,
		onPaymentFailure: config.OnPaymentFailure,
	}, nil
}

// PostJSON sends a JSON POST request, paying for it if the server
// demands payment. The caller owns the returned response body.
func (c *Client) PostJSON(ctx context.Context, url string, body any) (*http.Response, error) {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.send(ctx, url, requestBody, "")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	reqs, err := c.parseChallenge(resp)
	if err != nil {
		return nil, err
	}

	c.recordEvent(PaymentEventAttempt, url, *reqs, nil)

	payment, err := c.handler.CreatePayment(ctx, *reqs)
	if err != nil {
		c.recordEvent(PaymentEventFailure, url, *reqs, err)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	retry, err := c.send(ctx, url, requestBody, payment.Encode())
	if err != nil {
		c.recordEvent(PaymentEventFailure, url, *reqs, err)
		return nil, err
	}

	if retry.StatusCode == http.StatusPaymentRequired {
		retry.Body.Close()
		c.recordEvent(PaymentEventFailure, url, *reqs, ErrPaymentRejected)
		return nil, ErrPaymentRejected
	}

	if settlement := Settlement(retry); settlement != nil && settlement.Success {
		c.recordEvent(PaymentEventSuccess, url, *reqs, nil)
	}

	return retry, nil
}

// Settlement decodes the settlement receipt from a paid response, if any
func Settlement(resp *http.Response) *SettlementResponse {
	header := resp.Header.Get(PaymentResponseHeader)
	if header == "" {
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil
	}

	var settlement SettlementResponse
	if err := json.Unmarshal(data, &settlement); err != nil {
		return nil
	}
	return &settlement
}

func (c *Client) send(ctx context.Context, url string, body []byte, paymentHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if paymentHeader != "" {
		req.Header.Set(PaymentHeader, paymentHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}

// parseChallenge extracts the payment requirements from a 402 response.
// Servers may attach them as a base64 JSON header, as a JSON body, or
// both; the header wins when present.
func (c *Client) parseChallenge(resp *http.Response) (*PaymentRequirementsResponse, error) {
	defer resp.Body.Close()

	if header := resp.Header.Get(PaymentRequirementsHeader); header != "" {
		return DecodeRequirements(header)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read 402 body: %w", err)
	}

	var reqs PaymentRequirementsResponse
	if err := json.Unmarshal(body, &reqs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPaymentReqs, err)
	}
	if len(reqs.Accepts) == 0 {
		return nil, ErrNoAcceptablePayment
	}
	return &reqs, nil
}

// GetMetrics returns the client's budget metrics
func (c *Client) GetMetrics() BudgetMetrics {
	return c.handler.GetMetrics()
}

func (c *Client) recordEvent(eventType PaymentEventType, resource string, reqs PaymentRequirementsResponse, err error) {
	if len(reqs.Accepts) == 0 {
		return
	}

	req := reqs.Accepts[0]
	amount := new(big.Int)
	if _, ok := amount.SetString(req.MaxAmountRequired, 10); !ok {
		amount = big.NewInt(0)
	}

	event := PaymentEvent{
		Type:      eventType,
		Resource:  resource,
		Amount:    amount,
		Network:   req.Network,
		Asset:     req.Asset,
		Recipient: req.PayTo,
		Error:     err,
		Timestamp: time.Now().Unix(),
	}

	switch eventType {
	case PaymentEventAttempt:
		if c.onPaymentAttempt != nil {
			c.onPaymentAttempt(event)
		}
	case PaymentEventSuccess:
		if c.onPaymentSuccess != nil {
			c.onPaymentSuccess(event)
		}
	case PaymentEventFailure:
		if c.onPaymentFailure != nil {
			c.onPaymentFailure(event, err)
		}
	}

	if c.recorder != nil {
		c.recorder.Record(event)
	}
}
