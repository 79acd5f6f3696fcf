package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solroute-labs/solroute/pkg/bus"
	"github.com/solroute-labs/solroute/pkg/engine"
	"github.com/solroute-labs/solroute/pkg/order"
	"github.com/solroute-labs/solroute/pkg/queue"
	"github.com/solroute-labs/solroute/pkg/storage"
	"github.com/solroute-labs/solroute/pkg/venue"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := storage.NewMemoryStore()
	b := bus.NewMemoryBus()
	q := queue.New(queue.Config{
		Concurrency: 2,
		RateLimit:   1000,
		RateWindow:  time.Second,
		MaxAttempts: 2,
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  50 * time.Millisecond,
	}, store, nil)

	e := engine.New(engine.Config{
		Store: store,
		Bus:   b,
		Queue: q,
		Router: venue.NewRouter([]venue.Venue{
			venue.NewSim(venue.SimConfig{Name: "raydium", Fee: 0.003, Seed: 3}),
			venue.NewSim(venue.SimConfig{Name: "meteora", Fee: 0.002, Seed: 3}),
		}, nil),
		MaxAttempts: 2,
		StepDelay:   200 * time.Millisecond,
	})
	if err := e.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}

	registry := NewRegistry(b, nil)
	go registry.Run()

	s := NewServer(e, registry, []string{"*"}, nil)
	ts := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Close(ctx)
		_ = b.Close()
	})
	return s, ts
}

func postOrder(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/orders/execute", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post order: %v", err)
	}
	return resp
}

func TestExecuteOrderEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postOrder(t, ts, `{"tokenIn":"SOL","tokenOut":"USDC","amount":2}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var out ExecuteOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(out.OrderID, "ord_") {
		t.Errorf("order id = %q, want ord_ prefix", out.OrderID)
	}
	if out.Status != string(order.StatusPending) {
		t.Errorf("status = %q, want pending", out.Status)
	}
	if want := "/ws?orderId=" + out.OrderID; out.Stream != want {
		t.Errorf("stream = %q, want %q", out.Stream, want)
	}
}

func TestExecuteOrderValidation(t *testing.T) {
	_, ts := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"same token", `{"tokenIn":"SOL","tokenOut":"SOL","amount":1}`},
		{"zero amount", `{"tokenIn":"SOL","tokenOut":"USDC","amount":0}`},
		{"oversized slippage", `{"tokenIn":"SOL","tokenOut":"USDC","amount":1,"slippage":0.5}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postOrder(t, ts, tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGetOrderEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postOrder(t, ts, `{"tokenIn":"SOL","tokenOut":"USDC","amount":1}`)
	var created ExecuteOrderResponse
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	get, err := http.Get(ts.URL + "/api/v1/orders/" + created.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", get.StatusCode)
	}
	var o order.Order
	if err := json.NewDecoder(get.Body).Decode(&o); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if o.OrderID != created.OrderID {
		t.Errorf("order id = %q, want %q", o.OrderID, created.OrderID)
	}

	missing, err := http.Get(ts.URL + "/api/v1/orders/ord_missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing order status = %d, want 404", missing.StatusCode)
	}
}

func TestStatsAndHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	health, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", health.StatusCode)
	}

	resp := postOrder(t, ts, `{"tokenIn":"SOL","tokenOut":"USDC","amount":1}`)
	resp.Body.Close()

	stats, err := http.Get(ts.URL + "/api/v1/orders/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	defer stats.Body.Close()
	var out StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&out); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if out.Queue.Total < 1 {
		t.Errorf("queue total = %d, want >= 1", out.Queue.Total)
	}
	if len(out.Orders) == 0 {
		t.Error("order counts empty after a submit")
	}
}

func TestWebSocketStreamsOrderUpdates(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postOrder(t, ts, `{"tokenIn":"SOL","tokenOut":"USDC","amount":1}`)
	var created ExecuteOrderResponse
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?orderId=" + created.OrderID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// First frame is the connection ack.
	var ack WSEvent
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != "connection:established" || ack.ConnectionID == "" {
		t.Fatalf("ack = %+v", ack)
	}

	// Then status updates until the order confirms. Frames may contain
	// several newline-separated payloads, so read raw.
	seen := make(map[order.Status]bool)
	for !seen[order.StatusConfirmed] {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read update (seen %v): %v", seen, err)
		}
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var u order.StatusUpdate
			if err := json.Unmarshal(line, &u); err != nil || u.OrderID == "" {
				continue
			}
			if u.OrderID == created.OrderID {
				seen[u.Status] = true
			}
		}
	}
	// The first routing emission may land before the socket attaches, so
	// only the later lifecycle steps are required.
	for _, st := range []order.Status{order.StatusBuilding, order.StatusSubmitted, order.StatusConfirmed} {
		if !seen[st] {
			t.Errorf("never saw %s update", st)
		}
	}
}

func TestSendToConnection(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ack WSEvent
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if got := s.registry.ConnectionCount(); got != 1 {
		t.Errorf("connection count = %d, want 1", got)
	}

	payload := []byte(`{"type":"direct"}`)
	if !s.registry.SendToConnection(ack.ConnectionID, payload) {
		t.Fatal("send to live connection reported failure")
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read direct message: %v", err)
	}
	if !bytes.Equal(bytes.Split(frame, []byte{'\n'})[0], payload) {
		t.Errorf("direct message = %q, want %q", frame, payload)
	}

	if s.registry.SendToConnection("not-a-connection", payload) {
		t.Error("send to unknown connection reported success")
	}
}

func TestWebSocketSubscribeOp(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ack WSEvent
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	sub := WSSubscribeRequest{Op: "subscribe", Channels: []string{bus.TopicTransactions}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var confirm WSEvent
	if err := conn.ReadJSON(&confirm); err != nil {
		t.Fatalf("read subscribe ack: %v", err)
	}
	if confirm.Type != "subscribed" {
		t.Fatalf("subscribe ack = %+v", confirm)
	}

	// An order submitted now shows up on the firehose channel.
	resp := postOrder(t, ts, `{"tokenIn":"SOL","tokenOut":"USDC","amount":1}`)
	var created ExecuteOrderResponse
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read firehose: %v", err)
		}
		var u order.StatusUpdate
		if json.Unmarshal(bytes.Split(frame, []byte{'\n'})[0], &u) == nil && u.OrderID == created.OrderID {
			return
		}
	}
}
