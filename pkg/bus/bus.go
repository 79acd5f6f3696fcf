// Package bus is the status distribution layer: a publish/subscribe
// broadcast channel keyed per order, decoupling workers (which know status
// changes) from stream servers (which know live connections). Every process
// sees every publish, so a worker on one instance can reach a client
// connected to another.
package bus

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/solroute-labs/solroute/pkg/order"
)

var (
	ErrClosed     = errors.New("bus closed")
	ErrBufferFull = errors.New("bus buffer full")
)

// Handler receives the raw payload of one published message.
type Handler func(data []byte)

// Bus is a fire-and-forget broadcast channel. Same-topic messages from one
// publisher arrive in publish order; there is no ordering across topics and
// no delivery acknowledgment.
type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe registers a handler for a topic and returns a cancel
	// function that removes it.
	Subscribe(topic string, h Handler) (func(), error)
	Close() error
}

const (
	// TopicTransactions carries every order update for firehose consumers.
	TopicTransactions = "transactions"
	// TopicSystem carries operational events.
	TopicSystem = "system"
)

// OrderTopic names the per-order status channel.
func OrderTopic(orderID string) string { return "orders:" + orderID }

// PublishUpdate broadcasts a status update to the order's own topic and the
// transactions firehose. Distribution is best-effort: failures are logged
// and swallowed, the persisted order remains the source of truth.
func PublishUpdate(ctx context.Context, b Bus, update order.StatusUpdate, log *zap.SugaredLogger) {
	data, err := json.Marshal(update)
	if err != nil {
		if log != nil {
			log.Errorw("status_update_marshal_failed", "order_id", update.OrderID, "err", err)
		}
		return
	}
	for _, topic := range []string{OrderTopic(update.OrderID), TopicTransactions} {
		if err := b.Publish(ctx, topic, data); err != nil {
			if log != nil {
				log.Warnw("status_update_publish_failed",
					"order_id", update.OrderID,
					"status", update.Status,
					"topic", topic,
					"err", errors.Join(order.ErrDistributionUnavailable, err))
			}
		}
	}
}
