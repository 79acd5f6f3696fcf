package bus

import (
	"context"
	"sync"
)

const topicBuffer = 256

// MemoryBus is a single-process Bus. Each topic has one dispatch goroutine
// draining a buffered channel, so same-topic delivery order matches publish
// order. Publish never blocks: a full topic buffer is an error the caller
// treats as best-effort loss.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]*memTopic
	closed bool
}

type memTopic struct {
	mu       sync.Mutex
	ch       chan []byte
	closed   bool
	handlers map[int]Handler
	nextID   int
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string]*memTopic)}
}

func (b *MemoryBus) topic(name string) (*memTopic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{
			ch:       make(chan []byte, topicBuffer),
			handlers: make(map[int]Handler),
		}
		b.topics[name] = t
		go t.run()
	}
	return t, nil
}

func (t *memTopic) run() {
	for data := range t.ch {
		t.mu.Lock()
		hs := make([]Handler, 0, len(t.handlers))
		for _, h := range t.handlers {
			hs = append(hs, h)
		}
		t.mu.Unlock()
		for _, h := range hs {
			h(data)
		}
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	t, err := b.topic(topic)
	if err != nil {
		return err
	}
	msg := make([]byte, len(data))
	copy(msg, data)

	// The non-blocking send happens under the topic lock so Close cannot
	// close the channel out from under a sender.
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	select {
	case t.ch <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

func (b *MemoryBus) Subscribe(topic string, h Handler) (func(), error) {
	t, err := b.topic(topic)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = h
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.handlers, id)
		t.mu.Unlock()
	}, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.topics {
		t.mu.Lock()
		t.closed = true
		close(t.ch)
		t.mu.Unlock()
	}
	return nil
}

var _ Bus = (*MemoryBus)(nil)
