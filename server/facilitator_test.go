package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFacilitatorVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1, req.X402Version)
		assert.Equal(t, "eip155:84532", req.PaymentPayload.Network)

		json.NewEncoder(w).Encode(&VerifyResponse{IsValid: true, Payer: testSignerAddress})
	}))
	defer srv.Close()

	facilitator := NewHTTPFacilitator(srv.URL, "secret")

	req := paidRequirement(t)
	resp, err := facilitator.Verify(context.Background(), signedPayment(t, req), req)
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, testSignerAddress, resp.Payer)
}

func TestHTTPFacilitatorSettle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/settle", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "no token, no header")

		json.NewEncoder(w).Encode(&SettleResponse{
			Success:     true,
			Payer:       testSignerAddress,
			Transaction: "0xabc",
			Network:     "eip155:84532",
		})
	}))
	defer srv.Close()

	facilitator := NewHTTPFacilitator(srv.URL, "")

	req := paidRequirement(t)
	resp, err := facilitator.Settle(context.Background(), signedPayment(t, req), req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "0xabc", resp.Transaction)
}

func TestHTTPFacilitatorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	facilitator := NewHTTPFacilitator(srv.URL, "")

	req := paidRequirement(t)
	_, err := facilitator.Verify(context.Background(), signedPayment(t, req), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPFacilitatorGetSupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/supported", r.URL.Path)
		json.NewEncoder(w).Encode(map[string][]SupportedKind{
			"kinds": {{X402Version: 1, Scheme: "exact", Network: "eip155:8453"}},
		})
	}))
	defer srv.Close()

	facilitator := NewHTTPFacilitator(srv.URL, "")
	kinds, err := facilitator.GetSupported(context.Background())
	require.NoError(t, err)
	require.Len(t, kinds, 1)
	assert.Equal(t, "exact", kinds[0].Scheme)
}
