package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() *PaymentPayload {
	return &PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "eip155:84532",
		Payload: PaymentPayloadData{
			Signature: "0x" + "ab",
			Authorization: PaymentAuthorization{
				From:        "0x1111111111111111111111111111111111111111",
				To:          "0x2222222222222222222222222222222222222222",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "1893456000",
				Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
			},
		},
	}
}

func TestPaymentPayloadRoundTrip(t *testing.T) {
	payload := samplePayload()

	decoded, err := DecodePayment(payload.Encode())
	require.NoError(t, err)

	assert.Equal(t, payload.Scheme, decoded.Scheme)
	assert.Equal(t, payload.Network, decoded.Network)
	assert.Equal(t, payload.Payload.Authorization, decoded.Payload.Authorization)
	assert.Equal(t, payload.Payload.Signature, decoded.Payload.Signature)
}

func TestDecodePaymentRejectsUnknownVersion(t *testing.T) {
	payload := samplePayload()
	payload.X402Version = 2

	_, err := DecodePayment(payload.Encode())
	require.Error(t, err)
}

func TestDecodePaymentRejectsGarbage(t *testing.T) {
	_, err := DecodePayment("not base64!!!")
	require.Error(t, err)

	_, err = DecodePayment("aGVsbG8=") // base64 of "hello"
	require.Error(t, err)
}

func TestRequirementsRoundTrip(t *testing.T) {
	reqs := &PaymentRequirementsResponse{
		X402Version: 1,
		Error:       "Payment required",
		Accepts: []PaymentRequirement{
			{
				Scheme:            "exact",
				Network:           "eip155:84532",
				MaxAmountRequired: "10000",
				Asset:             USDCAddressBaseSepolia,
				PayTo:             "0x2222222222222222222222222222222222222222",
				Resource:          "http://localhost/api/fortune/interpret",
			},
		},
	}

	decoded, err := DecodeRequirements(reqs.Encode())
	require.NoError(t, err)
	require.Len(t, decoded.Accepts, 1)
	assert.Equal(t, reqs.Accepts[0], decoded.Accepts[0])
	assert.Equal(t, "Payment required", decoded.Error)
}

func TestGetChainID(t *testing.T) {
	tests := []struct {
		network string
		chainID int64
		wantErr bool
	}{
		{network: "eip155:8453", chainID: 8453},
		{network: "eip155:84532", chainID: 84532},
		{network: "base", chainID: 8453},
		{network: "base-sepolia", chainID: 84532},
		{network: "polygon", chainID: 137},
		{network: "eip155:abc", wantErr: true},
		{network: "unknown-network", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			chainID, err := GetChainID(tt.network)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.chainID, chainID.Int64())
		})
	}
}
