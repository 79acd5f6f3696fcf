// Package venue provides the quoting/execution counterparties an order can
// be routed to, and the router that picks the best of them.
package venue

import (
	"context"

	"github.com/solroute-labs/solroute/pkg/order"
)

// QuoteRequest asks a venue to price a swap of Amount TokenIn into TokenOut.
type QuoteRequest struct {
	TokenIn  string
	TokenOut string
	Amount   float64
}

// ExecuteRequest hands a swap to a venue's settlement primitive.
type ExecuteRequest struct {
	TokenIn       string
	TokenOut      string
	Amount        float64
	ExpectedPrice float64
	Slippage      float64
}

// Settlement is the completion signal from a venue's settlement primitive.
type Settlement struct {
	TxHash        string
	ExecutedPrice float64
}

// Venue is an external price-quoting and execution counterparty. The core
// only depends on this contract, not on any venue's internals.
type Venue interface {
	Name() string
	Quote(ctx context.Context, req QuoteRequest) (order.Quote, error)
	Execute(ctx context.Context, req ExecuteRequest) (Settlement, error)
}
