package order

import (
	"time"
)

// Kind selects the execution strategy for an order. Only market orders are
// executable today; the other kinds are reserved and rejected at dispatch.
type Kind string

const (
	KindMarket Kind = "market"
	KindLimit  Kind = "limit"
	KindSniper Kind = "sniper"
)

// Status is the lifecycle state of an order. Transitions are strictly
// forward: pending -> routing -> building -> submitted -> confirmed, with
// failed reachable from any non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRouting:   1,
	StatusBuilding:  2,
	StatusSubmitted: 3,
	StatusConfirmed: 4,
	StatusFailed:    4,
}

// Rank returns the position of s in the lifecycle. Confirmed and failed
// share the terminal rank.
func (s Status) Rank() int { return statusRank[s] }

func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle step. Re-emitting the current status is allowed (the routing
// step reports twice), regressions never are.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	if next == s {
		return true
	}
	return next.Rank() == s.Rank()+1
}

// Order is the persistent record of a swap order. Field names on the wire
// match the intake API.
type Order struct {
	OrderID       string    `json:"orderId"`
	Kind          Kind      `json:"orderType"`
	TokenIn       string    `json:"tokenIn"`
	TokenOut      string    `json:"tokenOut"`
	Amount        float64   `json:"amount"`
	Slippage      float64   `json:"slippage"`
	Status        Status    `json:"status"`
	SelectedVenue string    `json:"selectedVenue,omitempty"`
	ExecutedPrice float64   `json:"executedPrice,omitempty"`
	TxHash        string    `json:"txHash,omitempty"`
	Error         string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Quote is one venue's answer for a swap: gross price, fee fraction and the
// fee-adjusted effective price used for routing. Quotes are point-in-time
// and never reused across attempts.
type Quote struct {
	Venue          string    `json:"venue"`
	Price          float64   `json:"price"`
	Fee            float64   `json:"fee"`
	EffectivePrice float64   `json:"effectivePrice"`
	Timestamp      time.Time `json:"timestamp"`
}

// UpdateData carries the status-specific payload of a StatusUpdate.
type UpdateData struct {
	SelectedVenue string  `json:"selectedVenue,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Quotes        []Quote `json:"quotes,omitempty"`
	TxHash        string  `json:"txHash,omitempty"`
	ExecutedPrice float64 `json:"executedPrice,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// StatusUpdate is published once per lifecycle transition. Delivery is
// at-least-once; consumers must tolerate duplicates.
type StatusUpdate struct {
	OrderID   string      `json:"orderId"`
	Status    Status      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      *UpdateData `json:"data,omitempty"`
}

// ExecutionResult is what an executor hands back to the worker.
type ExecutionResult struct {
	Success       bool    `json:"success"`
	TxHash        string  `json:"txHash,omitempty"`
	ExecutedPrice float64 `json:"executedPrice,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Job wraps an order for queue processing. The order snapshot travels with
// the job so a worker can start without a fresh store lookup.
type Job struct {
	OrderID string `json:"orderId"`
	Order   Order  `json:"order"`
}
