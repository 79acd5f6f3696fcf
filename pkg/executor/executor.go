// Package executor drives a single order through its lifecycle, emitting a
// status update at every transition.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solroute-labs/solroute/pkg/order"
	"github.com/solroute-labs/solroute/pkg/venue"
)

// Emit is invoked synchronously at every transition, before the step the
// update announces begins. It is the sole channel by which state changes
// become observable.
type Emit func(update order.StatusUpdate)

// Executor runs one delivery of an order. It never panics or returns an
// error past its boundary: every failure becomes a FAILED emission and an
// unsuccessful result, which the queue observes as a handler failure.
type Executor interface {
	Execute(ctx context.Context, o order.Order, emit Emit) order.ExecutionResult
	Validate(o order.Order) error
}

// Deps is what any executor needs from the rest of the system.
type Deps struct {
	Router *venue.Router
	Log    *zap.SugaredLogger
	// StepDelay models processing time between lifecycle steps. Zero in
	// tests.
	StepDelay time.Duration
}

// ForKind returns the executor for an order kind. Limit and sniper orders
// are recognized but not yet executable.
func ForKind(kind order.Kind, deps Deps) (Executor, error) {
	switch kind {
	case order.KindMarket:
		return &Market{deps: deps}, nil
	case order.KindLimit, order.KindSniper:
		return nil, fmt.Errorf("%w: %s", order.ErrUnsupportedKind, kind)
	default:
		return nil, fmt.Errorf("%w: %s", order.ErrUnsupportedKind, kind)
	}
}
