package x402

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetManagerPerPaymentCap(t *testing.T) {
	bm, err := NewBudgetManager("10000", nil)
	require.NoError(t, err)

	assert.NoError(t, bm.CanSpend(big.NewInt(10000)))
	assert.ErrorIs(t, bm.CanSpend(big.NewInt(10001)), ErrAmountExceedsLimit)
}

func TestBudgetManagerRejectsBadConfig(t *testing.T) {
	_, err := NewBudgetManager("not-a-number", nil)
	assert.Error(t, err)

	_, err = NewBudgetManager("0", nil)
	assert.Error(t, err)

	_, err = NewBudgetManager("10000", &RateLimits{MaxAmountPerHour: "-5"})
	assert.Error(t, err)
}

func TestBudgetManagerMinuteRateLimit(t *testing.T) {
	bm, err := NewBudgetManager("10000", &RateLimits{MaxPaymentsPerMinute: 2})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, bm.CanSpend(big.NewInt(100)))
		bm.RecordPayment(big.NewInt(100))
	}

	assert.ErrorIs(t, bm.CanSpend(big.NewInt(100)), ErrRateLimitExceeded)
}

func TestBudgetManagerHourlyCap(t *testing.T) {
	bm, err := NewBudgetManager("10000", &RateLimits{MaxAmountPerHour: "15000"})
	require.NoError(t, err)

	require.NoError(t, bm.CanSpend(big.NewInt(10000)))
	bm.RecordPayment(big.NewInt(10000))

	// 10000 spent, another 10000 would exceed the hourly 15000
	assert.ErrorIs(t, bm.CanSpend(big.NewInt(10000)), ErrBudgetExceeded)
	assert.NoError(t, bm.CanSpend(big.NewInt(5000)))
}

func TestBudgetManagerMetrics(t *testing.T) {
	bm, err := NewBudgetManager("10000", &RateLimits{MaxPaymentsPerMinute: 10})
	require.NoError(t, err)

	bm.RecordPayment(big.NewInt(100))
	bm.RecordPayment(big.NewInt(250))

	metrics := bm.GetMetrics()
	assert.Equal(t, "350", metrics.TotalSpent)
	assert.Equal(t, "350", metrics.HourlySpent)
	assert.Equal(t, 2, metrics.PaymentCount)
	assert.Equal(t, 2, metrics.MinuteCount)
}

func TestBudgetManagerTotalsSurviveWindowReset(t *testing.T) {
	bm, err := NewBudgetManager("10000", &RateLimits{MaxPaymentsPerMinute: 10})
	require.NoError(t, err)

	bm.RecordPayment(big.NewInt(400))

	// Force both rate windows to expire
	bm.mu.Lock()
	bm.minuteResetTime = bm.minuteResetTime.Add(-2 * time.Minute)
	bm.hourlyResetTime = bm.hourlyResetTime.Add(-2 * time.Hour)
	bm.mu.Unlock()

	require.NoError(t, bm.CanSpend(big.NewInt(100)))

	metrics := bm.GetMetrics()
	assert.Equal(t, 0, metrics.MinuteCount)
	assert.Equal(t, "0", metrics.HourlySpent)
	// Lifetime totals are not window-scoped
	assert.Equal(t, "400", metrics.TotalSpent)
	assert.Equal(t, 1, metrics.PaymentCount)
}
