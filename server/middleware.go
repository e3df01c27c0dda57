package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	x402 "github.com/agentverse/fortune-x402"
)

type contextKey string

const paymentContextKey contextKey = "verifiedPayment"

// PaymentFromContext returns the verified payment the middleware
// attached to the request, if any
func PaymentFromContext(ctx context.Context) (*VerifiedPayment, bool) {
	payment, ok := ctx.Value(paymentContextKey).(*VerifiedPayment)
	return payment, ok
}

// PaymentMiddleware gates routes behind x402 payments. Requests without
// a valid X-PAYMENT header receive a 402 challenge; requests with one
// are verified and settled through the facilitator before the wrapped
// handler runs.
//
// The facilitator is constructed lazily on first use and the result,
// success or failure, is latched: a failed init keeps failing closed
// with 500 rather than letting requests through unverified.
type PaymentMiddleware struct {
	issuer     *Issuer
	verifyOnly bool
	log        *logrus.Logger
	metrics    *Metrics

	newFacilitator func() (Facilitator, error)

	initOnce    sync.Once
	facilitator Facilitator
	initErr     error
}

// NewPaymentMiddleware builds the payment gate from service config.
// An empty FacilitatorURL selects the in-process verifier.
func NewPaymentMiddleware(cfg *Config, log *logrus.Logger, metrics *Metrics) *PaymentMiddleware {
	return &PaymentMiddleware{
		issuer: &Issuer{
			Network:     cfg.Network,
			PayTo:       cfg.PaymentAddress,
			Asset:       cfg.Asset,
			PriceUSD:    cfg.PriceUSD,
			Description: "Fortune interpretation",
		},
		verifyOnly: cfg.VerifyOnly,
		log:        log,
		metrics:    metrics,
		newFacilitator: func() (Facilitator, error) {
			if cfg.FacilitatorURL == "" {
				return NewLocalFacilitator(), nil
			}
			return NewHTTPFacilitator(cfg.FacilitatorURL, cfg.FacilitatorToken), nil
		},
	}
}

func (m *PaymentMiddleware) init() (Facilitator, error) {
	m.initOnce.Do(func() {
		m.facilitator, m.initErr = m.newFacilitator()
		if m.initErr != nil {
			m.log.WithError(m.initErr).Error("facilitator initialization failed")
		}
	})
	return m.facilitator, m.initErr
}

// Ready reports whether the gate can currently accept payments, and
// the configuration error when it cannot
func (m *PaymentMiddleware) Ready() (bool, string) {
	if _, err := m.issuer.Requirements("readiness-check"); err != nil {
		return false, err.Error()
	}
	if _, err := m.init(); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// Wrap protects a handler with the payment gate
func (m *PaymentMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resource := requestResource(r)

		requirement, err := m.issuer.Requirements(resource)
		if err != nil {
			// Misconfiguration must never open the gate
			m.log.WithError(err).Error("payment gate misconfigured")
			writeError(w, http.StatusInternalServerError, "payment gate not configured")
			return
		}

		facilitator, err := m.init()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "payment gate not configured")
			return
		}

		header := r.Header.Get(x402.PaymentHeader)
		if header == "" {
			m.challenge(w, resource, "Payment required")
			return
		}

		payment, err := x402.DecodePayment(header)
		if err != nil {
			m.log.WithError(err).Debug("rejecting malformed payment header")
			m.challenge(w, resource, "Invalid payment header")
			return
		}

		if payment.Scheme != requirement.Scheme || payment.Network != requirement.Network {
			m.challenge(w, resource, "Payment scheme or network not accepted")
			return
		}

		// Check the authorization time window here as well, so a stale
		// payment gets a fresh 402 challenge even when verification is
		// delegated to a remote facilitator
		if reason, ok := authorizationWindowOpen(payment, time.Now()); !ok {
			m.metrics.PaymentsRejected.Inc()
			m.log.WithField("reason", reason).Info("payment rejected")
			m.challenge(w, resource, reason)
			return
		}

		verifyResp, err := facilitator.Verify(r.Context(), payment, requirement)
		if err != nil {
			m.log.WithError(err).Error("facilitator verify failed")
			writeError(w, http.StatusBadGateway, "payment verification unavailable")
			return
		}
		if !verifyResp.IsValid {
			m.metrics.PaymentsRejected.Inc()
			m.log.WithField("reason", verifyResp.InvalidReason).Info("payment rejected")
			m.challenge(w, resource, verifyResp.InvalidReason)
			return
		}
		m.metrics.PaymentsVerified.Inc()

		verified := &VerifiedPayment{
			Payer:   verifyResp.Payer,
			Nonce:   payment.Payload.Authorization.Nonce,
			Network: payment.Network,
		}

		if !m.verifyOnly {
			settleResp, err := facilitator.Settle(r.Context(), payment, requirement)
			if err != nil {
				m.log.WithError(err).Error("facilitator settle failed")
				writeError(w, http.StatusBadGateway, "payment settlement unavailable")
				return
			}
			if !settleResp.Success {
				m.metrics.PaymentsRejected.Inc()
				m.log.WithField("reason", settleResp.ErrorReason).Info("settlement rejected")
				m.challenge(w, resource, settleResp.ErrorReason)
				return
			}
			m.metrics.PaymentsSettled.Inc()

			verified.Transaction = settleResp.Transaction
			receipt := &x402.SettlementResponse{
				Success:     true,
				Transaction: settleResp.Transaction,
				Network:     settleResp.Network,
				Payer:       settleResp.Payer,
			}
			w.Header().Set(x402.PaymentResponseHeader, receipt.Encode())
		}

		m.log.WithFields(logrus.Fields{
			"payer":    verified.Payer,
			"resource": resource,
		}).Info("payment accepted")

		ctx := context.WithValue(r.Context(), paymentContextKey, verified)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// challenge writes a 402 with the requirements both as a header and as
// the JSON body, so header-only and body-only clients both work
func (m *PaymentMiddleware) challenge(w http.ResponseWriter, resource, message string) {
	body, err := m.issuer.Challenge(resource, message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "payment gate not configured")
		return
	}

	w.Header().Set(x402.PaymentRequirementsHeader, body.Encode())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(body)
}

// authorizationWindowOpen reports whether now falls inside the
// payment's validAfter/validBefore window
func authorizationWindowOpen(payment *x402.PaymentPayload, now time.Time) (string, bool) {
	auth := payment.Payload.Authorization

	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return "invalid validAfter", false
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return "invalid validBefore", false
	}

	ts := now.Unix()
	if ts < validAfter {
		return "authorization not yet valid", false
	}
	if ts >= validBefore {
		return "authorization expired", false
	}
	return "", true
}

func requestResource(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
