package server

import (
	x402 "github.com/agentverse/fortune-x402"
)

// VerifyRequest sent to facilitator /verify endpoint
type VerifyRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirement `json:"paymentRequirements"`
}

// VerifyResponse from facilitator
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	Payer         string `json:"payer,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// SettleRequest sent to facilitator /settle endpoint
type SettleRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirement `json:"paymentRequirements"`
}

// SettleResponse from facilitator
type SettleResponse struct {
	Success     bool   `json:"success"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// SupportedKind represents a supported payment scheme/network combination
type SupportedKind struct {
	X402Version int               `json:"x402Version"`
	Scheme      string            `json:"scheme"`
	Network     string            `json:"network"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// VerifiedPayment is what the payment middleware hands to the
// protected handler once the facilitator has accepted a payment. The
// nonce doubles as the seed source for fortune derivation.
type VerifiedPayment struct {
	Payer       string
	Nonce       string
	Transaction string
	Network     string
}
