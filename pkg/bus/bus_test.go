package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/solroute-labs/solroute/pkg/order"
)

// collector records received payloads in order.
type collector struct {
	mu   sync.Mutex
	got  [][]byte
	seen chan struct{}
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 1024)}
}

func (c *collector) handler(data []byte) {
	c.mu.Lock()
	c.got = append(c.got, data)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		c.mu.Lock()
		count := len(c.got)
		c.mu.Unlock()
		if count >= n {
			return
		}
		select {
		case <-c.seen:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, got %d", n, count)
		}
	}
}

func (c *collector) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.got))
	for i, b := range c.got {
		out[i] = string(b)
	}
	return out
}

func TestMemoryBusOrderedDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	c1 := newCollector()
	c2 := newCollector()
	if _, err := b.Subscribe("orders:ord_1", c1.handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := b.Subscribe("orders:ord_1", c2.handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	const n = 20
	for i := 0; i < n; i++ {
		if err := b.Publish(context.Background(), "orders:ord_1", []byte(fmt.Sprintf("msg-%02d", i))); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	c1.waitFor(t, n, 2*time.Second)
	c2.waitFor(t, n, 2*time.Second)

	// Both subscribers see every message in the same relative order.
	m1, m2 := c1.messages(), c2.messages()
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("msg-%02d", i)
		if m1[i] != want {
			t.Fatalf("subscriber 1 position %d = %q, want %q", i, m1[i], want)
		}
		if m2[i] != want {
			t.Fatalf("subscriber 2 position %d = %q, want %q", i, m2[i], want)
		}
	}
}

func TestMemoryBusTopicIsolation(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	c := newCollector()
	if _, err := b.Subscribe("orders:a", c.handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Publish(context.Background(), "orders:b", []byte("other")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(context.Background(), "orders:a", []byte("mine")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	c.waitFor(t, 1, 2*time.Second)
	if msgs := c.messages(); len(msgs) != 1 || msgs[0] != "mine" {
		t.Errorf("messages = %v, want [mine]", msgs)
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	c := newCollector()
	cancel, err := b.Subscribe("orders:a", c.handler)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Publish(context.Background(), "orders:a", []byte("one")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	c.waitFor(t, 1, 2*time.Second)

	cancel()
	if err := b.Publish(context.Background(), "orders:a", []byte("two")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if msgs := c.messages(); len(msgs) != 1 {
		t.Errorf("got %d messages after unsubscribe, want 1", len(msgs))
	}
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemoryBus()
	b.Close()
	if err := b.Publish(context.Background(), "orders:a", []byte("x")); err != ErrClosed {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe("orders:a", func([]byte) {}); err != ErrClosed {
		t.Errorf("Subscribe after close = %v, want ErrClosed", err)
	}
}

func TestMemoryBusPublishCloseRace(t *testing.T) {
	// A publisher racing Close must get an error back, never a panic
	// from a send on a closed channel.
	for i := 0; i < 200; i++ {
		b := NewMemoryBus()
		// Pre-create the topic so Close has a channel to tear down.
		if err := b.Publish(context.Background(), "orders:r", []byte("warm")); err != nil {
			t.Fatalf("warmup publish: %v", err)
		}

		var wg sync.WaitGroup
		start := make(chan struct{})
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 20; j++ {
					err := b.Publish(context.Background(), "orders:r", []byte("m"))
					if err != nil && err != ErrClosed && err != ErrBufferFull {
						t.Errorf("Publish = %v", err)
					}
				}
			}()
		}
		close(start)
		b.Close()
		wg.Wait()

		if err := b.Publish(context.Background(), "orders:r", []byte("late")); err != ErrClosed {
			t.Fatalf("Publish after close = %v, want ErrClosed", err)
		}
	}
}

func TestPublishUpdateBestEffort(t *testing.T) {
	b := NewMemoryBus()
	b.Close()

	// Publishing against a dead bus must not panic or propagate.
	PublishUpdate(context.Background(), b, order.StatusUpdate{
		OrderID:   "ord_x",
		Status:    order.StatusRouting,
		Timestamp: time.Now(),
	}, nil)
}

func TestPublishUpdateTopics(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	perOrder := newCollector()
	firehose := newCollector()
	if _, err := b.Subscribe(OrderTopic("ord_y"), perOrder.handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := b.Subscribe(TopicTransactions, firehose.handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	update := order.StatusUpdate{OrderID: "ord_y", Status: order.StatusConfirmed, Timestamp: time.Now()}
	PublishUpdate(context.Background(), b, update, nil)

	perOrder.waitFor(t, 1, 2*time.Second)
	firehose.waitFor(t, 1, 2*time.Second)

	var got order.StatusUpdate
	if err := json.Unmarshal([]byte(perOrder.messages()[0]), &got); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if got.OrderID != "ord_y" || got.Status != order.StatusConfirmed {
		t.Errorf("got %+v", got)
	}
}

func TestGossipBusLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("libp2p host startup")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := NewGossipBus(ctx, GossipConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	if err != nil {
		t.Fatalf("NewGossipBus: %v", err)
	}
	defer b.Close()

	c := newCollector()
	if _, err := b.Subscribe("orders:gossip", c.handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Publish(ctx, "orders:gossip", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	c.waitFor(t, 1, 5*time.Second)
	if msgs := c.messages(); msgs[0] != "hello" {
		t.Errorf("got %q, want hello", msgs[0])
	}
}
