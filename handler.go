package x402

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// PaymentHandler turns a 402 challenge into a signed payment. It owns
// the payment policy: method selection, budget checks, and the optional
// approval callback for large amounts.
type PaymentHandler struct {
	signer        PaymentSigner
	budgetManager *BudgetManager
	config        *HandlerConfig
}

// HandlerConfig configures the payment handler
type HandlerConfig struct {
	MaxPaymentAmount string
	AutoPayThreshold string // Automatically pay if at or below this amount
	RateLimits       *RateLimits
	PaymentCallback  func(amount *big.Int, resource string) bool

	// Options restricts which advertised requirements the client will
	// consider. When empty, any requirement the signer can serve is a
	// candidate.
	Options []ClientPaymentOption
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(signer PaymentSigner, config *HandlerConfig) (*PaymentHandler, error) {
	if signer == nil {
		return nil, ErrNoSignerConfigured
	}

	if config == nil {
		config = &HandlerConfig{
			MaxPaymentAmount: "1000000", // 1 USDC
			AutoPayThreshold: "100000",  // 0.1 USDC
		}
	}

	budgetManager, err := NewBudgetManager(config.MaxPaymentAmount, config.RateLimits)
	if err != nil {
		return nil, err
	}

	return &PaymentHandler{
		signer:        signer,
		budgetManager: budgetManager,
		config:        config,
	}, nil
}

// ShouldPay determines if a payment should be made
func (h *PaymentHandler) ShouldPay(req PaymentRequirement) (bool, error) {
	amount := new(big.Int)
	if _, ok := amount.SetString(req.MaxAmountRequired, 10); !ok {
		return false, fmt.Errorf("invalid payment amount: %s", req.MaxAmountRequired)
	}

	if amount.Sign() <= 0 {
		return false, fmt.Errorf("payment amount must be positive: %s", req.MaxAmountRequired)
	}

	if err := h.budgetManager.CanSpend(amount); err != nil {
		return false, err
	}

	if h.config.AutoPayThreshold != "" {
		threshold := new(big.Int)
		if _, ok := threshold.SetString(h.config.AutoPayThreshold, 10); !ok {
			return false, fmt.Errorf("invalid auto-pay threshold: %s", h.config.AutoPayThreshold)
		}

		if amount.Cmp(threshold) <= 0 {
			return true, nil
		}
	}

	if h.config.PaymentCallback != nil {
		return h.config.PaymentCallback(amount, req.Resource), nil
	}

	return true, nil
}

// CreatePayment creates a signed payment for the given 402 challenge.
// It never fabricates a payload: any failure here is a hard stop for
// the caller, not an invitation to retry without payment.
func (h *PaymentHandler) CreatePayment(ctx context.Context, reqs PaymentRequirementsResponse) (*PaymentPayload, error) {
	selected, err := h.selectPaymentMethod(reqs.Accepts)
	if err != nil {
		return nil, err
	}

	shouldPay, err := h.ShouldPay(*selected)
	if err != nil {
		return nil, err
	}
	if !shouldPay {
		return nil, fmt.Errorf("payment declined by policy")
	}

	payment, err := h.signer.SignPayment(ctx, *selected)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	amount := new(big.Int)
	if _, ok := amount.SetString(selected.MaxAmountRequired, 10); !ok {
		return nil, fmt.Errorf("invalid payment amount for recording: %s", selected.MaxAmountRequired)
	}
	h.budgetManager.RecordPayment(amount)

	return payment, nil
}

// selectPaymentMethod selects the best requirement the signer can serve,
// preferring configured options by priority and breaking ties by amount
func (h *PaymentHandler) selectPaymentMethod(accepts []PaymentRequirement) (*PaymentRequirement, error) {
	if len(accepts) == 0 {
		return nil, ErrNoAcceptablePayment
	}

	type candidate struct {
		req      PaymentRequirement
		priority int
		amount   *big.Int
	}

	var candidates []candidate

	for _, req := range accepts {
		if req.Scheme != "exact" {
			continue
		}
		if !h.signer.SupportsNetwork(req.Network) {
			continue
		}

		amount := new(big.Int)
		if _, ok := amount.SetString(req.MaxAmountRequired, 10); !ok {
			continue
		}
		if amount.Sign() <= 0 {
			continue
		}

		priority := 0
		if len(h.config.Options) > 0 {
			option := h.matchOption(req)
			if option == nil {
				continue
			}
			if option.MaxAmount != "" {
				maxAmount := new(big.Int)
				if _, ok := maxAmount.SetString(option.MaxAmount, 10); ok && amount.Cmp(maxAmount) > 0 {
					continue
				}
			}
			priority = option.Priority
		}

		candidates = append(candidates, candidate{req: req, priority: priority, amount: amount})
	}

	if len(candidates) == 0 {
		return nil, ErrNoAcceptablePayment
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].amount.Cmp(candidates[j].amount) < 0
	})

	return &candidates[0].req, nil
}

func (h *PaymentHandler) matchOption(req PaymentRequirement) *ClientPaymentOption {
	for i := range h.config.Options {
		option := &h.config.Options[i]
		if option.Network != "" && option.Network != req.Network {
			continue
		}
		if option.Asset != "" && !strings.EqualFold(option.Asset, req.Asset) {
			continue
		}
		return option
	}
	return nil
}

// GetMetrics returns budget metrics
func (h *PaymentHandler) GetMetrics() BudgetMetrics {
	return h.budgetManager.GetMetrics()
}
