package x402

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayTo = "0x2222222222222222222222222222222222222222"

// paymentGate fakes an x402 server: challenge without payment, accept
// any well-formed payment and attach a settlement receipt.
func paymentGate(headerChallenge bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(PaymentHeader)
		if header == "" {
			challenge := &PaymentRequirementsResponse{
				X402Version: 1,
				Error:       "Payment required",
				Accepts: []PaymentRequirement{{
					Scheme:            "exact",
					Network:           "eip155:84532",
					MaxAmountRequired: "10000",
					Asset:             USDCAddressBaseSepolia,
					PayTo:             testPayTo,
					Resource:          "http://" + r.Host + r.URL.Path,
					MaxTimeoutSeconds: 60,
					Extra:             map[string]string{"name": "USDC", "version": "2"},
				}},
			}
			if headerChallenge {
				w.Header().Set(PaymentRequirementsHeader, challenge.Encode())
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(challenge)
			return
		}

		payment, err := DecodePayment(header)
		if err != nil {
			http.Error(w, "bad payment", http.StatusBadRequest)
			return
		}

		receipt := &SettlementResponse{
			Success:     true,
			Transaction: "0xabc",
			Network:     payment.Network,
			Payer:       payment.Payload.Authorization.From,
		}
		w.Header().Set(PaymentResponseHeader, receipt.Encode())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}
}

func newTestClient(t *testing.T) (*Client, *PaymentRecorder) {
	t.Helper()

	client, err := NewClient(ClientConfig{
		Signer: NewMockSigner("1111111111111111111111111111111111111111"),
	})
	require.NoError(t, err)

	recorder := NewPaymentRecorder()
	client.WithPaymentRecorder(recorder)
	return client, recorder
}

func TestClientPaysOn402(t *testing.T) {
	srv := httptest.NewServer(paymentGate(true))
	defer srv.Close()

	client, recorder := newTestClient(t)

	resp, err := client.PostJSON(context.Background(), srv.URL+"/api/fortune/interpret", map[string]string{"category": "career"})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	settlement := Settlement(resp)
	require.NotNil(t, settlement)
	assert.True(t, settlement.Success)
	assert.Equal(t, "0xabc", settlement.Transaction)

	assert.Len(t, recorder.SuccessfulPayments(), 1)
	assert.Equal(t, "10000", recorder.TotalAmount())
	events := recorder.GetEvents()
	require.Len(t, events, 2)
	assert.Equal(t, PaymentEventAttempt, events[0].Type)
	assert.Equal(t, PaymentEventSuccess, events[1].Type)
	assert.Equal(t, int64(10000), events[1].Amount.Int64())
}

func TestClientChallengeBodyOnly(t *testing.T) {
	srv := httptest.NewServer(paymentGate(false))
	defer srv.Close()

	client, _ := newTestClient(t)

	resp, err := client.PostJSON(context.Background(), srv.URL+"/api/fortune/interpret", map[string]string{"category": "career"})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientPassesThroughWithoutChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(PaymentHeader))
		json.NewEncoder(w).Encode(map[string]bool{"free": true})
	}))
	defer srv.Close()

	client, recorder := newTestClient(t)

	resp, err := client.PostJSON(context.Background(), srv.URL+"/api/fortune/interpret-free", map[string]string{"category": "career"})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, Settlement(resp))
	assert.Equal(t, 0, recorder.PaymentCount())
}

func TestClientPaymentRejected(t *testing.T) {
	// A server that keeps demanding payment regardless of what it gets
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		challenge := &PaymentRequirementsResponse{
			X402Version: 1,
			Error:       "insufficient payment",
			Accepts: []PaymentRequirement{{
				Scheme:            "exact",
				Network:           "eip155:84532",
				MaxAmountRequired: "10000",
				Asset:             USDCAddressBaseSepolia,
				PayTo:             testPayTo,
			}},
		}
		w.Header().Set(PaymentRequirementsHeader, challenge.Encode())
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(challenge)
	}))
	defer srv.Close()

	client, recorder := newTestClient(t)

	_, err := client.PostJSON(context.Background(), srv.URL+"/api/fortune/interpret", map[string]string{"category": "career"})
	assert.ErrorIs(t, err, ErrPaymentRejected)

	events := recorder.FailedPayments()
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Error, ErrPaymentRejected)
}

func TestClientRejectsEmptyChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(&PaymentRequirementsResponse{X402Version: 1})
	}))
	defer srv.Close()

	client, _ := newTestClient(t)

	_, err := client.PostJSON(context.Background(), srv.URL+"/api/fortune/interpret", map[string]string{"category": "career"})
	assert.ErrorIs(t, err, ErrNoAcceptablePayment)
}
