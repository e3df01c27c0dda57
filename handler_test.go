package x402

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaymentHandlerRequiresSigner(t *testing.T) {
	_, err := NewPaymentHandler(nil, nil)
	assert.ErrorIs(t, err, ErrNoSignerConfigured)
}

func TestCreatePaymentSignsSelectedRequirement(t *testing.T) {
	signer := NewMockSigner("1111111111111111111111111111111111111111")
	handler, err := NewPaymentHandler(signer, nil)
	require.NoError(t, err)

	payment, err := handler.CreatePayment(context.Background(), PaymentRequirementsResponse{
		X402Version: 1,
		Accepts:     []PaymentRequirement{testRequirement()},
	})
	require.NoError(t, err)
	assert.Equal(t, "eip155:84532", payment.Network)
	assert.Equal(t, signer.GetAddress(), payment.Payload.Authorization.From)

	metrics := handler.GetMetrics()
	assert.Equal(t, 1, metrics.PaymentCount)
	assert.Equal(t, "10000", metrics.TotalSpent)
}

func TestCreatePaymentNoAcceptableMethod(t *testing.T) {
	signer := NewMockSigner("1111111111111111111111111111111111111111")
	handler, err := NewPaymentHandler(signer, nil)
	require.NoError(t, err)

	_, err = handler.CreatePayment(context.Background(), PaymentRequirementsResponse{X402Version: 1})
	assert.ErrorIs(t, err, ErrNoAcceptablePayment)

	// Non-exact schemes are never candidates
	req := testRequirement()
	req.Scheme = "upto"
	_, err = handler.CreatePayment(context.Background(), PaymentRequirementsResponse{
		X402Version: 1,
		Accepts:     []PaymentRequirement{req},
	})
	assert.ErrorIs(t, err, ErrNoAcceptablePayment)
}

func TestSelectPaymentMethodPrefersPriorityThenAmount(t *testing.T) {
	signer := NewMockSigner("1111111111111111111111111111111111111111")
	handler, err := NewPaymentHandler(signer, &HandlerConfig{
		MaxPaymentAmount: "1000000",
		AutoPayThreshold: "1000000",
		Options: []ClientPaymentOption{
			AcceptUSDCBase().WithPriority(2),
			AcceptUSDCBaseSepolia().WithPriority(1),
		},
	})
	require.NoError(t, err)

	base := testRequirement()
	base.Network = "eip155:8453"
	base.Asset = USDCAddressBase
	base.MaxAmountRequired = "5000"

	sepolia := testRequirement()

	selected, err := handler.selectPaymentMethod([]PaymentRequirement{base, sepolia})
	require.NoError(t, err)
	assert.Equal(t, "eip155:84532", selected.Network, "lower priority value wins even at a higher amount")

	// Without options the cheaper requirement wins
	plain, err := NewPaymentHandler(signer, nil)
	require.NoError(t, err)
	selected, err = plain.selectPaymentMethod([]PaymentRequirement{sepolia, base})
	require.NoError(t, err)
	assert.Equal(t, "5000", selected.MaxAmountRequired)
}

func TestSelectPaymentMethodHonorsOptionMaxAmount(t *testing.T) {
	signer := NewMockSigner("1111111111111111111111111111111111111111")
	handler, err := NewPaymentHandler(signer, &HandlerConfig{
		MaxPaymentAmount: "1000000",
		Options: []ClientPaymentOption{
			AcceptUSDCBaseSepolia().WithMaxAmount("5000"),
		},
	})
	require.NoError(t, err)

	_, err = handler.selectPaymentMethod([]PaymentRequirement{testRequirement()}) // 10000 > 5000
	assert.ErrorIs(t, err, ErrNoAcceptablePayment)
}

func TestShouldPayEnforcesLimitsAndCallback(t *testing.T) {
	signer := NewMockSigner("1111111111111111111111111111111111111111")

	handler, err := NewPaymentHandler(signer, &HandlerConfig{
		MaxPaymentAmount: "5000",
	})
	require.NoError(t, err)

	_, err = handler.ShouldPay(testRequirement()) // 10000 over the 5000 cap
	assert.ErrorIs(t, err, ErrAmountExceedsLimit)

	// Above the auto-pay threshold the callback decides
	var asked *big.Int
	handler, err = NewPaymentHandler(signer, &HandlerConfig{
		MaxPaymentAmount: "1000000",
		AutoPayThreshold: "100",
		PaymentCallback: func(amount *big.Int, resource string) bool {
			asked = amount
			return false
		},
	})
	require.NoError(t, err)

	ok, err := handler.ShouldPay(testRequirement())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(10000), asked.Int64())
}
