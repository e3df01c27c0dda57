package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/agentverse/fortune-x402"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &Config{
		Port:             "0",
		PaymentAddress:   testPayee,
		Network:          "eip155:84532",
		PriceUSD:         "0.01",
		CommerceBaseURL:  "http://unused",
		CommercePriceUSD: "0.10",
	}

	srv := httptest.NewServer(New(cfg, quietLogger()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "eip155:84532", health["network"])
	assert.Equal(t, true, health["x402_ready"])
	assert.NotContains(t, health, "x402_error")
	assert.Equal(t, "local", health["facilitator"])
	assert.Equal(t, false, health["commerce_configured"])
	assert.Equal(t, false, health["ai_configured"])
}

func TestHealthReportsMisconfiguredGate(t *testing.T) {
	cfg := &Config{
		Port:             "0",
		Network:          "eip155:84532", // no payment address
		PriceUSD:         "0.01",
		CommerceBaseURL:  "http://unused",
		CommercePriceUSD: "0.10",
	}
	srv := httptest.NewServer(New(cfg, quietLogger()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, false, health["x402_ready"])
	assert.Contains(t, health["x402_error"], "payee address missing")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPaidRouteIsGated(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/fortune/interpret", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(x402.PaymentRequirementsHeader))
}

func TestFreeRouteIsOpen(t *testing.T) {
	srv := testServer(t)

	body := strings.NewReader(`{"stickNumbers":[1,2,3],"category":"career","language":"en"}`)
	resp, err := http.Post(srv.URL+"/api/fortune/interpret-free", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result FortuneResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, []int{1, 2, 3}, result.StickNumbers)
	assert.False(t, result.X402Paid)
}

func TestCORSPreflight(t *testing.T) {
	srv := testServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/fortune/interpret", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), x402.PaymentHeader)
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), x402.PaymentResponseHeader)
}
