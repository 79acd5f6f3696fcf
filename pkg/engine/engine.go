// Package engine ties intake, queue, execution, persistence and
// distribution together. The engine owns the order lifecycle: the store is
// the source of truth, every accepted transition is published on the bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solroute-labs/solroute/pkg/bus"
	"github.com/solroute-labs/solroute/pkg/executor"
	"github.com/solroute-labs/solroute/pkg/order"
	"github.com/solroute-labs/solroute/pkg/queue"
	"github.com/solroute-labs/solroute/pkg/storage"
	"github.com/solroute-labs/solroute/pkg/venue"
)

type Engine struct {
	store storage.Store
	bus   bus.Bus
	queue *queue.Queue
	deps  executor.Deps

	maxAttempts int
	log         *zap.SugaredLogger
}

type Config struct {
	Store       storage.Store
	Bus         bus.Bus
	Queue       *queue.Queue
	Router      *venue.Router
	MaxAttempts int
	StepDelay   time.Duration
	Log         *zap.SugaredLogger
}

func New(cfg Config) *Engine {
	return &Engine{
		store: cfg.Store,
		bus:   cfg.Bus,
		queue: cfg.Queue,
		deps: executor.Deps{
			Router:    cfg.Router,
			Log:       cfg.Log,
			StepDelay: cfg.StepDelay,
		},
		maxAttempts: cfg.MaxAttempts,
		log:         cfg.Log,
	}
}

// Start registers the engine as the queue's job handler and brings the
// queue up.
func (e *Engine) Start() error {
	return e.queue.Start(e.handleJob, e.handleExhausted)
}

// Submit validates and persists a new order, announces it and hands it to
// the queue. The order row exists even when enqueue fails, so the caller
// can still look it up.
func (e *Engine) Submit(ctx context.Context, req order.CreateRequest) (order.Order, error) {
	o, err := req.Normalize(time.Now())
	if err != nil {
		return order.Order{}, err
	}
	if err := e.store.SaveOrder(o); err != nil {
		return order.Order{}, fmt.Errorf("save order: %w", err)
	}

	bus.PublishUpdate(ctx, e.bus, order.StatusUpdate{
		OrderID:   o.OrderID,
		Status:    order.StatusPending,
		Timestamp: o.CreatedAt,
	}, e.log)

	if _, err := e.queue.Enqueue(ctx, order.Job{OrderID: o.OrderID, Order: o}, queue.Options{}); err != nil {
		e.markFailed(ctx, o.OrderID, 0, fmt.Errorf("enqueue: %w", err))
		return o, err
	}
	return o, nil
}

// GetOrder returns the persisted order row.
func (e *Engine) GetOrder(id string) (order.Order, error) {
	return e.store.GetOrder(id)
}

// QueueStats exposes queue counters for the stats endpoint.
func (e *Engine) QueueStats() queue.Stats { return e.queue.Stats() }

// CountByStatus exposes order counts for the stats endpoint.
func (e *Engine) CountByStatus() (map[order.Status]int, error) {
	return e.store.CountByStatus()
}

// handleJob runs one delivery. A returned error means the attempt failed
// and the queue should apply its retry policy; permanent rejections
// (validation, unsupported kind) fail the order immediately and return nil
// so the queue does not retry.
func (e *Engine) handleJob(ctx context.Context, job order.Job, attempt int) error {
	o, err := e.store.GetOrder(job.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			// Row swept or never written; fall back to the job snapshot.
			o = job.Order
		} else {
			return fmt.Errorf("load order: %w", err)
		}
	}
	if o.Status.Terminal() {
		return nil
	}

	exec, err := executor.ForKind(o.Kind, e.deps)
	if err != nil {
		e.markFailed(ctx, o.OrderID, attempt, err)
		return nil
	}
	if err := exec.Validate(o); err != nil {
		e.markFailed(ctx, o.OrderID, attempt, err)
		return nil
	}

	// Record the delivery. A retry reruns the whole pipeline from
	// scratch, so the row also has to rewind to pending before the fresh
	// routing pass.
	if _, err := e.store.UpdateOrder(o.OrderID, func(row *order.Order) error {
		row.Attempts = attempt
		if attempt > 1 {
			row.Status = order.StatusPending
			row.SelectedVenue = ""
			row.TxHash = ""
			row.ExecutedPrice = 0
			row.Error = ""
		}
		row.UpdatedAt = time.Now()
		return nil
	}); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}

	res := exec.Execute(ctx, o, func(u order.StatusUpdate) {
		e.applyUpdate(ctx, u)
	})
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

// handleExhausted marks the order failed once the retry budget is spent.
func (e *Engine) handleExhausted(ctx context.Context, job order.Job, attempt int, err error) {
	e.markFailed(ctx, job.OrderID, attempt,
		fmt.Errorf("max retries exceeded after %d attempts: %w", attempt, err))
}

// applyUpdate persists one lifecycle transition and publishes it. Illegal
// transitions are dropped: the store never regresses, and a transition
// that did not persist is not announced. Failure emissions from a
// retryable attempt are also dropped here; only the exhausted handler
// (or a permanent rejection) makes an order fail.
func (e *Engine) applyUpdate(ctx context.Context, u order.StatusUpdate) {
	if u.Status == order.StatusFailed {
		return
	}

	_, err := e.store.UpdateOrder(u.OrderID, func(row *order.Order) error {
		if !row.Status.CanTransitionTo(u.Status) {
			return fmt.Errorf("illegal transition %s -> %s", row.Status, u.Status)
		}
		row.Status = u.Status
		row.UpdatedAt = u.Timestamp
		if d := u.Data; d != nil {
			if d.SelectedVenue != "" {
				row.SelectedVenue = d.SelectedVenue
			}
			if d.TxHash != "" {
				row.TxHash = d.TxHash
			}
			if d.ExecutedPrice != 0 {
				row.ExecutedPrice = d.ExecutedPrice
			}
		}
		return nil
	})
	if err != nil {
		if e.log != nil {
			e.log.Warnw("status_update_dropped", "order_id", u.OrderID, "status", u.Status, "err", err)
		}
		return
	}

	bus.PublishUpdate(ctx, e.bus, u, e.log)
}

func (e *Engine) markFailed(ctx context.Context, orderID string, attempt int, cause error) {
	now := time.Now()
	_, err := e.store.UpdateOrder(orderID, func(row *order.Order) error {
		if row.Status.Terminal() {
			return fmt.Errorf("order already %s", row.Status)
		}
		row.Status = order.StatusFailed
		row.Error = cause.Error()
		if attempt > 0 {
			row.Attempts = attempt
		}
		row.UpdatedAt = now
		return nil
	})
	if err != nil {
		if e.log != nil {
			e.log.Warnw("order_fail_not_recorded", "order_id", orderID, "err", err)
		}
		return
	}

	bus.PublishUpdate(ctx, e.bus, order.StatusUpdate{
		OrderID:   orderID,
		Status:    order.StatusFailed,
		Timestamp: now,
		Data:      &order.UpdateData{Error: cause.Error()},
	}, e.log)
}
