package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/solroute-labs/solroute/pkg/bus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced by the REST middleware.
		return true
	},
}

// Registry maintains live websocket connections and relays bus messages to
// them. Each bus topic is subscribed once, on the first client interest,
// and released when the last interested client goes away.
type Registry struct {
	bus bus.Bus
	log *zap.SugaredLogger

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool

	feedsMu sync.Mutex
	feeds   map[string]*topicFeed
}

// topicFeed is one refcounted bus subscription.
type topicFeed struct {
	refs   int
	cancel func()
}

func NewRegistry(b bus.Bus, log *zap.SugaredLogger) *Registry {
	return &Registry{
		bus:        b,
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		feeds:      make(map[string]*topicFeed),
	}
}

// Run is the registry's main loop. It owns the clients map mutations.
func (r *Registry) Run() {
	for {
		select {
		case client := <-r.register:
			r.mu.Lock()
			r.clients[client] = true
			total := len(r.clients)
			r.mu.Unlock()
			if r.log != nil {
				r.log.Infow("ws_connected", "connection_id", client.id, "total", total)
			}

		case client := <-r.unregister:
			r.mu.Lock()
			if _, ok := r.clients[client]; ok {
				delete(r.clients, client)
				close(client.send)
			}
			total := len(r.clients)
			r.mu.Unlock()
			r.releaseAll(client)
			if r.log != nil {
				r.log.Infow("ws_disconnected", "connection_id", client.id, "total", total)
			}
		}
	}
}

// ConnectionCount reports how many clients are attached.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// SendToConnection delivers one payload to a single connection. Unknown or
// closed connections are a no-op; a backed-up client is skipped. Returns
// whether the payload was queued.
func (r *Registry) SendToConnection(id string, message []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for client := range r.clients {
		if client.id != id {
			continue
		}
		select {
		case client.send <- message:
			return true
		default:
			return false
		}
	}
	return false
}

// TerminateAll closes every client connection. Used at shutdown after the
// HTTP listener stops accepting.
func (r *Registry) TerminateAll() {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.conn.Close()
	}
}

// fanout delivers one bus payload to every client subscribed to the topic.
// A client whose send buffer is full is skipped; its backlog is its own.
func (r *Registry) fanout(topic string, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for client := range r.clients {
		if !client.isSubscribed(topic) {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}
}

// retain adds one client's interest in a topic, wiring the bus
// subscription on the first.
func (r *Registry) retain(topic string) {
	r.feedsMu.Lock()
	defer r.feedsMu.Unlock()
	if feed, ok := r.feeds[topic]; ok {
		feed.refs++
		return
	}
	cancel, err := r.bus.Subscribe(topic, func(data []byte) {
		r.fanout(topic, data)
	})
	if err != nil {
		if r.log != nil {
			r.log.Warnw("ws_topic_subscribe_failed", "topic", topic, "err", err)
		}
		return
	}
	r.feeds[topic] = &topicFeed{refs: 1, cancel: cancel}
}

// release drops one client's interest, tearing the bus subscription down
// on the last.
func (r *Registry) release(topic string) {
	r.feedsMu.Lock()
	defer r.feedsMu.Unlock()
	feed, ok := r.feeds[topic]
	if !ok {
		return
	}
	feed.refs--
	if feed.refs <= 0 {
		feed.cancel()
		delete(r.feeds, topic)
	}
}

func (r *Registry) releaseAll(c *Client) {
	for _, topic := range c.channels() {
		r.release(topic)
	}
}

// Client is one websocket connection and its channel subscriptions.
type Client struct {
	registry *Registry
	conn     *websocket.Conn
	send     chan []byte
	id       string

	subsMu        sync.RWMutex
	subscriptions map[string]bool
}

func (c *Client) isSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *Client) channels() []string {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	return out
}

func (c *Client) subscribe(channel string) {
	c.subsMu.Lock()
	already := c.subscriptions[channel]
	if !already {
		c.subscriptions[channel] = true
	}
	c.subsMu.Unlock()
	if !already {
		c.registry.retain(channel)
	}
}

func (c *Client) unsubscribe(channel string) {
	c.subsMu.Lock()
	had := c.subscriptions[channel]
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
	if had {
		c.registry.release(channel)
	}
}

// sendEvent marshals and queues a control event, dropping it if the client
// is backed up.
func (c *Client) sendEvent(ev WSEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump consumes subscription requests until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.registry.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if c.registry.log != nil {
					c.registry.log.Debugw("ws_read_error", "connection_id", c.id, "err", err)
				}
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if c.registry.log != nil {
				c.registry.log.Debugw("ws_bad_message", "connection_id", c.id, "err", err)
			}
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				c.subscribe(channel)
			}
			c.sendEvent(WSEvent{Type: "subscribed", Channels: req.Channels, Timestamp: time.Now()})
		case "unsubscribe":
			for _, channel := range req.Channels {
				c.unsubscribe(channel)
			}
			c.sendEvent(WSEvent{Type: "unsubscribed", Channels: req.Channels, Timestamp: time.Now()})
		default:
			if c.registry.log != nil {
				c.registry.log.Debugw("ws_unknown_op", "connection_id", c.id, "op", req.Op)
			}
		}
	}
}

// writePump drains the send buffer to the connection and keeps it alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued messages into the same write.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades the connection and drops it into the registry.
// The optional orderId query parameter pre-subscribes the connection to
// that order's channel plus the transactions firehose.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("ws_upgrade_failed", "err", err)
		}
		return
	}

	client := &Client{
		registry:      s.registry,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            uuid.NewString(),
		subscriptions: make(map[string]bool),
	}

	s.registry.register <- client

	if orderID := r.URL.Query().Get("orderId"); orderID != "" {
		client.subscribe(bus.OrderTopic(orderID))
		client.subscribe(bus.TopicTransactions)
	}

	go client.writePump()
	go client.readPump()

	client.sendEvent(WSEvent{
		Type:         "connection:established",
		ConnectionID: client.id,
		Channels:     client.channels(),
		Timestamp:    time.Now(),
	})
}
