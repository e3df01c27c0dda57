package x402

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// RateLimits caps how fast a client is allowed to spend
type RateLimits struct {
	MaxPaymentsPerMinute int
	MaxAmountPerHour     string
}

// BudgetManager enforces per-payment and rate limits and keeps running
// spend totals. A single instance is shared by all requests going
// through one Client.
type BudgetManager struct {
	mu               sync.RWMutex
	maxPaymentAmount *big.Int
	rateLimits       *RateLimits

	totalSpent   *big.Int
	paymentCount int

	hourlySpent     *big.Int
	hourlyResetTime time.Time
	minuteCount     int
	minuteResetTime time.Time
}

// NewBudgetManager creates a new budget manager
func NewBudgetManager(maxPaymentAmount string, rateLimits *RateLimits) (*BudgetManager, error) {
	maxAmount := new(big.Int)
	if maxPaymentAmount != "" {
		if _, ok := maxAmount.SetString(maxPaymentAmount, 10); !ok {
			return nil, fmt.Errorf("invalid max payment amount: %s", maxPaymentAmount)
		}
		if maxAmount.Sign() <= 0 {
			return nil, fmt.Errorf("max payment amount must be positive: %s", maxPaymentAmount)
		}
	}

	if rateLimits != nil && rateLimits.MaxAmountPerHour != "" {
		hourlyMax := new(big.Int)
		if _, ok := hourlyMax.SetString(rateLimits.MaxAmountPerHour, 10); !ok {
			return nil, fmt.Errorf("invalid max hourly amount: %s", rateLimits.MaxAmountPerHour)
		}
		if hourlyMax.Sign() <= 0 {
			return nil, fmt.Errorf("max hourly amount must be positive: %s", rateLimits.MaxAmountPerHour)
		}
	}

	return &BudgetManager{
		maxPaymentAmount: maxAmount,
		rateLimits:       rateLimits,
		totalSpent:       big.NewInt(0),
		hourlySpent:      big.NewInt(0),
		hourlyResetTime:  time.Now().Add(time.Hour),
		minuteResetTime:  time.Now().Add(time.Minute),
	}, nil
}

// CanSpend checks if a payment is within budget limits
func (bm *BudgetManager) CanSpend(amount *big.Int) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if bm.maxPaymentAmount != nil && bm.maxPaymentAmount.Sign() > 0 {
		if amount.Cmp(bm.maxPaymentAmount) > 0 {
			return ErrAmountExceedsLimit
		}
	}

	if bm.rateLimits != nil {
		bm.resetWindows(time.Now())

		if bm.rateLimits.MaxPaymentsPerMinute > 0 && bm.minuteCount >= bm.rateLimits.MaxPaymentsPerMinute {
			return ErrRateLimitExceeded
		}

		if bm.rateLimits.MaxAmountPerHour != "" {
			maxHourly := new(big.Int)
			if _, ok := maxHourly.SetString(bm.rateLimits.MaxAmountPerHour, 10); !ok {
				return fmt.Errorf("invalid max hourly amount: %s", bm.rateLimits.MaxAmountPerHour)
			}

			newTotal := new(big.Int).Add(bm.hourlySpent, amount)
			if newTotal.Cmp(maxHourly) > 0 {
				return ErrBudgetExceeded
			}
		}
	}

	return nil
}

// RecordPayment records a successful payment against the budget
func (bm *BudgetManager) RecordPayment(amount *big.Int) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	bm.totalSpent.Add(bm.totalSpent, amount)
	bm.paymentCount++

	if bm.rateLimits != nil {
		bm.resetWindows(time.Now())
		bm.minuteCount++
		bm.hourlySpent.Add(bm.hourlySpent, amount)
	}
}

// resetWindows starts fresh rate windows once the old ones have
// elapsed. Callers must hold the lock.
func (bm *BudgetManager) resetWindows(now time.Time) {
	if !now.Before(bm.hourlyResetTime) {
		bm.hourlySpent = big.NewInt(0)
		bm.hourlyResetTime = now.Add(time.Hour)
	}
	if !now.Before(bm.minuteResetTime) {
		bm.minuteCount = 0
		bm.minuteResetTime = now.Add(time.Minute)
	}
}

// GetMetrics returns current spending metrics
func (bm *BudgetManager) GetMetrics() BudgetMetrics {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	return BudgetMetrics{
		TotalSpent:   bm.totalSpent.String(),
		HourlySpent:  bm.hourlySpent.String(),
		PaymentCount: bm.paymentCount,
		MinuteCount:  bm.minuteCount,
	}
}

// BudgetMetrics contains spending metrics
type BudgetMetrics struct {
	TotalSpent   string
	HourlySpent  string
	PaymentCount int
	MinuteCount  int
}
