package order

import (
	"fmt"
	"time"
)

const (
	DefaultSlippage = 0.01
	MaxSlippage     = 0.1
)

// CreateRequest is the intake payload for a new order.
type CreateRequest struct {
	TokenIn  string   `json:"tokenIn"`
	TokenOut string   `json:"tokenOut"`
	Amount   float64  `json:"amount"`
	Slippage *float64 `json:"slippage,omitempty"`
	Kind     Kind     `json:"orderType,omitempty"`
}

// Normalize validates the request and builds a pending Order from it.
// Invalid requests return a ValidationError and are never enqueued.
func (r CreateRequest) Normalize(now time.Time) (Order, error) {
	if r.TokenIn == "" || r.TokenOut == "" {
		return Order{}, &ValidationError{Reason: "token pair is required"}
	}
	if r.TokenIn == r.TokenOut {
		return Order{}, &ValidationError{Reason: "cannot swap same token"}
	}
	if r.Amount <= 0 {
		return Order{}, &ValidationError{Reason: "amount must be positive"}
	}

	slippage := DefaultSlippage
	if r.Slippage != nil {
		slippage = *r.Slippage
	}
	if slippage < 0 || slippage > MaxSlippage {
		return Order{}, &ValidationError{Reason: fmt.Sprintf("slippage must be between 0 and %g", MaxSlippage)}
	}

	kind := r.Kind
	if kind == "" {
		kind = KindMarket
	}
	switch kind {
	case KindMarket, KindLimit, KindSniper:
	default:
		return Order{}, &ValidationError{Reason: fmt.Sprintf("unknown order type: %s", kind)}
	}

	return Order{
		OrderID:   NewOrderID(),
		Kind:      kind,
		TokenIn:   r.TokenIn,
		TokenOut:  r.TokenOut,
		Amount:    r.Amount,
		Slippage:  slippage,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate re-checks the invariants on an already-built order. The executor
// runs this before the first transition so a corrupted job record cannot
// reach routing.
func Validate(o Order) error {
	if o.TokenIn == "" || o.TokenOut == "" {
		return &ValidationError{Reason: "token pair is required"}
	}
	if o.TokenIn == o.TokenOut {
		return &ValidationError{Reason: "cannot swap same token"}
	}
	if o.Amount <= 0 {
		return &ValidationError{Reason: "amount must be positive"}
	}
	if o.Slippage < 0 || o.Slippage > MaxSlippage {
		return &ValidationError{Reason: fmt.Sprintf("slippage must be between 0 and %g", MaxSlippage)}
	}
	return nil
}
