package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/solroute-labs/solroute/pkg/order"
	"github.com/solroute-labs/solroute/pkg/venue"
)

// Market executes market orders: route to the venue with the best
// effective price, build, submit, confirm. Quotes are fetched fresh on
// every delivery; nothing is cached across retries.
type Market struct {
	deps Deps
}

func (m *Market) Validate(o order.Order) error {
	return order.Validate(o)
}

func (m *Market) Execute(ctx context.Context, o order.Order, emit Emit) order.ExecutionResult {
	if err := order.Validate(o); err != nil {
		return m.fail(o, emit, err)
	}

	// ROUTING: announce before fetching so observers see the step begin.
	m.emit(emit, o, order.StatusRouting, nil)
	m.pause(ctx)

	quotes := m.deps.Router.GetAllQuotes(ctx, venue.QuoteRequest{
		TokenIn:  o.TokenIn,
		TokenOut: o.TokenOut,
		Amount:   o.Amount,
	})
	best, err := m.deps.Router.SelectBestQuote(quotes)
	if err != nil {
		return m.fail(o, emit, err)
	}

	reason := fmt.Sprintf("best effective price %.6f", best.EffectivePrice)
	if len(quotes) > 1 {
		next := quotes[1]
		reason = fmt.Sprintf("better price: %.6f vs %.6f (%.2f%% better)",
			best.EffectivePrice, next.EffectivePrice, venue.ImprovementPct(best, next))
	}
	m.emit(emit, o, order.StatusRouting, &order.UpdateData{
		SelectedVenue: best.Venue,
		Reason:        reason,
		Quotes:        quotes,
	})
	m.pause(ctx)

	// BUILDING: settlement parameter preparation is opaque here; the
	// external settlement system owns transaction construction.
	m.emit(emit, o, order.StatusBuilding, &order.UpdateData{SelectedVenue: best.Venue})
	m.pause(ctx)

	m.emit(emit, o, order.StatusSubmitted, &order.UpdateData{SelectedVenue: best.Venue})

	settlement, err := m.deps.Router.ExecuteOn(ctx, best.Venue, venue.ExecuteRequest{
		TokenIn:       o.TokenIn,
		TokenOut:      o.TokenOut,
		Amount:        o.Amount,
		ExpectedPrice: best.EffectivePrice,
		Slippage:      o.Slippage,
	})
	if err != nil {
		return m.fail(o, emit, fmt.Errorf("%w: %v", order.ErrSettlement, err))
	}

	// A fill outside the tolerance band is the collaborator's defect,
	// but it must still be surfaced.
	if best.EffectivePrice > 0 {
		dev := math.Abs(settlement.ExecutedPrice-best.EffectivePrice) / best.EffectivePrice
		if dev > o.Slippage && m.deps.Log != nil {
			m.deps.Log.Warnw("executed_price_outside_tolerance",
				"order_id", o.OrderID,
				"expected", best.EffectivePrice,
				"executed", settlement.ExecutedPrice,
				"deviation", dev,
				"tolerance", o.Slippage)
		}
	}

	m.pause(ctx)
	m.emit(emit, o, order.StatusConfirmed, &order.UpdateData{
		SelectedVenue: best.Venue,
		TxHash:        settlement.TxHash,
		ExecutedPrice: settlement.ExecutedPrice,
	})

	if m.deps.Log != nil {
		m.deps.Log.Infow("order_executed",
			"order_id", o.OrderID,
			"venue", best.Venue,
			"tx_hash", settlement.TxHash,
			"executed_price", settlement.ExecutedPrice)
	}

	return order.ExecutionResult{
		Success:       true,
		TxHash:        settlement.TxHash,
		ExecutedPrice: settlement.ExecutedPrice,
	}
}

func (m *Market) fail(o order.Order, emit Emit, err error) order.ExecutionResult {
	if m.deps.Log != nil {
		m.deps.Log.Errorw("order_execution_failed", "order_id", o.OrderID, "err", err)
	}
	m.emit(emit, o, order.StatusFailed, &order.UpdateData{Error: err.Error()})
	return order.ExecutionResult{Success: false, Error: err.Error()}
}

func (m *Market) emit(emit Emit, o order.Order, status order.Status, data *order.UpdateData) {
	emit(order.StatusUpdate{
		OrderID:   o.OrderID,
		Status:    status,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (m *Market) pause(ctx context.Context) {
	if m.deps.StepDelay <= 0 {
		return
	}
	t := time.NewTimer(m.deps.StepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

var _ Executor = (*Market)(nil)
