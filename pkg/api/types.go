package api

import (
	"time"

	"github.com/solroute-labs/solroute/pkg/order"
	"github.com/solroute-labs/solroute/pkg/queue"
)

// ExecuteOrderResponse is returned on successful order intake. Stream is
// the websocket path the caller can attach to for live status updates.
type ExecuteOrderResponse struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"`
}

// StatsResponse aggregates queue counters, order counts by status and the
// live connection count.
type StatsResponse struct {
	Queue       queue.Stats          `json:"queue"`
	Orders      map[order.Status]int `json:"orders"`
	Connections int                  `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the only inbound websocket message: subscribe or
// unsubscribe a set of channels.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSEvent is a server-originated websocket control message.
type WSEvent struct {
	Type         string    `json:"type"`
	ConnectionID string    `json:"connectionId,omitempty"`
	Channels     []string  `json:"channels,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
