package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// PaymentRequirement describes one payment method a server accepts
type PaymentRequirement struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Asset             string            `json:"asset"`
	PayTo             string            `json:"payTo"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// PaymentRequirementsResponse is the 402 response body
type PaymentRequirementsResponse struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// PaymentPayload is the signed payment sent in the X-PAYMENT header
type PaymentPayload struct {
	X402Version int                `json:"x402Version"`
	Scheme      string             `json:"scheme"`
	Network     string             `json:"network"`
	Payload     PaymentPayloadData `json:"payload"`
}

// PaymentPayloadData contains the signature and authorization
type PaymentPayloadData struct {
	Signature     string               `json:"signature"`
	Authorization PaymentAuthorization `json:"authorization"`
}

// PaymentAuthorization contains EIP-3009 TransferWithAuthorization data.
// Value, ValidAfter and ValidBefore are decimal strings; Nonce is a
// 0x-prefixed 32-byte hex string and is the identity of the payment.
type PaymentAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Encode encodes the payment payload as base64 JSON for the X-PAYMENT header
func (p *PaymentPayload) Encode() string {
	data, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePayment decodes a base64 JSON X-PAYMENT header value
func DecodePayment(header string) (*PaymentPayload, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	var payment PaymentPayload
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}

	if payment.X402Version != 1 {
		return nil, fmt.Errorf("unsupported x402 version: %d", payment.X402Version)
	}

	return &payment, nil
}

// DecodeRequirements decodes a base64 JSON payment-requirements header value
func DecodeRequirements(header string) (*PaymentRequirementsResponse, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	var reqs PaymentRequirementsResponse
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("unmarshal requirements: %w", err)
	}

	return &reqs, nil
}

// Encode encodes the 402 challenge as base64 JSON for the
// Payment-Requirements header
func (r *PaymentRequirementsResponse) Encode() string {
	data, _ := json.Marshal(r)
	return base64.StdEncoding.EncodeToString(data)
}

// SettlementResponse is the X-PAYMENT-RESPONSE header content
type SettlementResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// Encode encodes the settlement receipt as base64 JSON for the
// X-PAYMENT-RESPONSE header
func (s *SettlementResponse) Encode() string {
	data, _ := json.Marshal(s)
	return base64.StdEncoding.EncodeToString(data)
}

// PaymentEvent represents a payment lifecycle event
type PaymentEvent struct {
	Type      PaymentEventType
	Resource  string
	Amount    *big.Int
	Network   string
	Asset     string
	Recipient string
	Error     error
	Timestamp int64
}

// PaymentEventType represents types of payment events
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// NetworkChainIDs maps friendly network names to chain IDs
var NetworkChainIDs = map[string]*big.Int{
	"base-sepolia": big.NewInt(84532),
	"base":         big.NewInt(8453),
	"ethereum":     big.NewInt(1),
	"sepolia":      big.NewInt(11155111),
	"polygon":      big.NewInt(137),
	"polygon-amoy": big.NewInt(80002),
}

// GetChainID resolves a network identifier to a chain ID. Both CAIP-2
// identifiers ("eip155:8453") and friendly names ("base") are accepted.
func GetChainID(network string) (*big.Int, error) {
	if id, ok := strings.CutPrefix(network, "eip155:"); ok {
		chainID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
		}
		return big.NewInt(chainID), nil
	}
	if chainID, ok := NetworkChainIDs[network]; ok {
		return chainID, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
}

// ClientPaymentOption represents a payment method the client accepts
type ClientPaymentOption struct {
	PaymentRequirement

	// Client-specific fields
	Priority   int    `json:"-"` // Lower number = higher priority
	MaxAmount  string `json:"-"` // Client's max willing to pay with this option
	MinBalance string `json:"-"` // Don't use if balance falls below this
}
