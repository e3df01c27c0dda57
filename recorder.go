package x402

import (
	"math/big"
	"sync"
)

// PaymentRecorder collects the payment events a client emits, for use
// in tests and example programs
type PaymentRecorder struct {
	mu     sync.RWMutex
	events []PaymentEvent
}

// NewPaymentRecorder creates a new payment recorder
func NewPaymentRecorder() *PaymentRecorder {
	return &PaymentRecorder{}
}

// WithPaymentRecorder attaches a recorder to a client
func (c *Client) WithPaymentRecorder(recorder *PaymentRecorder) *Client {
	c.recorder = recorder
	return c
}

// Record appends a payment event
func (r *PaymentRecorder) Record(event PaymentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// PaymentCount returns the number of recorded events of any type
func (r *PaymentRecorder) PaymentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// GetEvents returns copies of all recorded events
func (r *PaymentRecorder) GetEvents() []PaymentEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyEvents(r.events, func(PaymentEvent) bool { return true })
}

// SuccessfulPayments returns only successful payment events
func (r *PaymentRecorder) SuccessfulPayments() []PaymentEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyEvents(r.events, func(e PaymentEvent) bool { return e.Type == PaymentEventSuccess })
}

// FailedPayments returns only failed payment events
func (r *PaymentRecorder) FailedPayments() []PaymentEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyEvents(r.events, func(e PaymentEvent) bool { return e.Type == PaymentEventFailure })
}

// TotalAmount returns the summed amount of all successful payments
func (r *PaymentRecorder) TotalAmount() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := big.NewInt(0)
	for _, event := range r.events {
		if event.Type == PaymentEventSuccess && event.Amount != nil {
			total.Add(total, event.Amount)
		}
	}
	return total.String()
}

// copyEvents returns deep copies of the events keep selects, so callers
// cannot mutate recorded amounts
func copyEvents(events []PaymentEvent, keep func(PaymentEvent) bool) []PaymentEvent {
	var out []PaymentEvent
	for _, event := range events {
		if !keep(event) {
			continue
		}
		eventCopy := event
		if event.Amount != nil {
			eventCopy.Amount = new(big.Int).Set(event.Amount)
		}
		out = append(out, eventCopy)
	}
	return out
}
