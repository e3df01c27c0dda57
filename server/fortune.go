package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// FortuneRequest is the body of the interpretation endpoints. Paid
// routes ignore StickNumbers and derive sticks from the payment; only
// the free route honors caller-supplied sticks.
type FortuneRequest struct {
	Category     string `json:"category"`
	Language     string `json:"language"`
	WishText     string `json:"wishText,omitempty"`
	StickNumbers []int  `json:"stickNumbers,omitempty"`
	ChargeID     string `json:"charge_id,omitempty"`
}

// FortuneResult is a complete fortune reading
type FortuneResult struct {
	StickNumbers []int    `json:"stickNumbers"`
	MainPoem     []string `json:"mainPoem"`
	OverallLuck  string   `json:"overallLuck"`
	Explanation  string   `json:"explanation"`
	Advice       string   `json:"advice"`
	Payer        string   `json:"payer,omitempty"`
	X402Paid     bool     `json:"x402_paid"`
	CommercePaid bool     `json:"commerce_paid,omitempty"`
	Timestamp    string   `json:"timestamp,omitempty"`
}

// CreateChargeResponse is returned by the create-charge endpoint
type CreateChargeResponse struct {
	ChargeID   string `json:"charge_id"`
	ChargeCode string `json:"charge_code"`
	HostedURL  string `json:"hosted_url"`
	ExpiresAt  string `json:"expires_at"`
}

// FortuneService owns the fortune endpoints
type FortuneService struct {
	generator     *Generator
	commerce      *CommerceClient
	commercePrice string
	log           *logrus.Logger
	metrics       *Metrics
}

// NewFortuneService creates the fortune endpoint handlers
func NewFortuneService(generator *Generator, commerce *CommerceClient, commercePrice string, log *logrus.Logger, metrics *Metrics) *FortuneService {
	return &FortuneService{
		generator:     generator,
		commerce:      commerce,
		commercePrice: commercePrice,
		log:           log,
		metrics:       metrics,
	}
}

func decodeRequest(r *http.Request) (*FortuneRequest, error) {
	var req FortuneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An absent body means an empty request, not a malformed one
		if errors.Is(err, io.EOF) {
			return &FortuneRequest{}, nil
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return &req, nil
}

// HandleInterpret serves the x402-gated reading. It runs behind the
// payment middleware; the sticks come from the settled payment's
// authorization nonce, not from the caller.
func (s *FortuneService) HandleInterpret(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "Missing category")
		return
	}

	payment, ok := PaymentFromContext(r.Context())
	if !ok {
		// Reachable only if the route was wired without the middleware
		writeError(w, http.StatusInternalServerError, "payment gate not configured")
		return
	}

	sticks, fellBack := SticksFromNonce(payment.Nonce)
	if fellBack {
		s.metrics.SeedFallbacks.Inc()
		s.log.WithField("payer", payment.Payer).Warn("nonce unusable for stick derivation, using time fallback")
	}

	result := s.generator.Generate(r.Context(), sticks, req.Category, req.Language, req.WishText)
	result.Payer = payment.Payer
	result.X402Paid = true
	result.Timestamp = time.Now().UTC().Format(time.RFC3339)

	writeJSON(w, http.StatusOK, result)
}

// HandleInterpretFree serves the unpaid reading. The caller supplies
// their own sticks; the response is marked unpaid.
func (s *FortuneService) HandleInterpretFree(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.StickNumbers) == 0 || req.Category == "" {
		writeError(w, http.StatusBadRequest, "Missing stickNumbers or category")
		return
	}

	result := s.generator.Generate(r.Context(), req.StickNumbers, req.Category, req.Language, req.WishText)
	result.X402Paid = false

	writeJSON(w, http.StatusOK, result)
}

// HandleCreateCharge creates a hosted-checkout charge for one reading
func (s *FortuneService) HandleCreateCharge(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	category := req.Category
	if category == "" {
		category = "career"
	}
	language := req.Language
	if language == "" {
		language = "zh-CN"
	}

	charge, err := s.commerce.CreateCharge(r.Context(),
		"AI Fortune Oracle",
		fmt.Sprintf("AI 新春福签 — %s (%s)", category, language),
		s.commercePrice,
		map[string]string{"category": category, "language": language},
	)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			writeError(w, http.StatusInternalServerError, "Commerce API key not configured")
			return
		}
		s.log.WithError(err).Error("create charge failed")
		writeError(w, http.StatusBadGateway, "Failed to create charge")
		return
	}
	s.metrics.ChargesCreated.Inc()

	writeJSON(w, http.StatusOK, &CreateChargeResponse{
		ChargeID:   charge.ID,
		ChargeCode: charge.Code,
		HostedURL:  charge.HostedURL,
		ExpiresAt:  charge.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func unpaidMessage(language string) string {
	switch language {
	case "zh-CN":
		return "尚未检测到支付，请先完成托管支付"
	case "zh-TW":
		return "尚未偵測到支付，請先完成託管支付"
	default:
		return "Payment not detected. Please complete the hosted checkout first."
	}
}

// HandleInterpretCommerce serves the hosted-checkout reading. The
// charge must show a completed payment; sticks derive from its code.
func (s *FortuneService) HandleInterpretCommerce(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ChargeID == "" {
		writeError(w, http.StatusBadRequest, "Missing charge_id")
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "Missing category")
		return
	}

	charge, err := s.commerce.VerifyPaid(r.Context(), req.ChargeID)
	if err != nil {
		var unpaid *ChargeUnpaidError
		switch {
		case errors.Is(err, ErrNotConfigured):
			writeError(w, http.StatusInternalServerError, "Commerce API key not configured")
		case errors.Is(err, ErrChargeNotFound):
			writeError(w, http.StatusBadRequest, "Invalid charge_id")
		case errors.As(err, &unpaid):
			writeJSON(w, http.StatusPaymentRequired, map[string]string{
				"error":   "Payment not completed",
				"status":  unpaid.Status,
				"message": unpaidMessage(req.Language),
			})
		default:
			s.log.WithError(err).Error("charge verification failed")
			writeError(w, http.StatusBadGateway, "Charge verification unavailable")
		}
		return
	}
	s.metrics.ChargesVerified.Inc()

	// The human-facing code is the stable seed; fall back to the id
	// for providers that omit it
	code := charge.Code
	if code == "" {
		code = req.ChargeID
	}
	sticks := SticksFromChargeCode(code)

	result := s.generator.Generate(r.Context(), sticks, req.Category, req.Language, req.WishText)
	result.CommercePaid = true
	result.Timestamp = time.Now().UTC().Format(time.RFC3339)

	writeJSON(w, http.StatusOK, result)
}
