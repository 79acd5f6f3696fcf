package bus

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// GossipConfig configures the cross-process bus.
type GossipConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

// GossipBus distributes status updates between processing instances over
// libp2p gossipsub. Topics are joined lazily and cached; each topic has a
// single reader goroutine fanning messages out to the local handlers.
// Locally published messages are also delivered locally, so a single-node
// deployment behaves like the in-memory bus.
type GossipBus struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	cancel context.CancelFunc
	ctx    context.Context

	mu     sync.Mutex
	topics map[string]*gossipTopic
	closed bool
}

type gossipTopic struct {
	topic *pubsub.Topic

	mu       sync.Mutex
	sub      *pubsub.Subscription
	subStop  context.CancelFunc
	handlers map[int]Handler
	nextID   int
}

func NewGossipBus(ctx context.Context, cfg GossipConfig) (*GossipBus, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	busCtx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(busCtx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	b := &GossipBus{
		h:      h,
		ps:     ps,
		log:    cfg.Logger,
		ctx:    busCtx,
		cancel: cancel,
		topics: make(map[string]*gossipTopic),
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(busCtx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bus_bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if cfg.Logger != nil {
		cfg.Logger.Infow("gossip_bus_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return b, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (b *GossipBus) join(name string) (*gossipTopic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	t, ok := b.topics[name]
	if !ok {
		topic, err := b.ps.Join(name)
		if err != nil {
			return nil, err
		}
		t = &gossipTopic{topic: topic, handlers: make(map[int]Handler)}
		b.topics[name] = t
	}
	return t, nil
}

func (b *GossipBus) Publish(ctx context.Context, topic string, data []byte) error {
	t, err := b.join(topic)
	if err != nil {
		return err
	}
	return t.topic.Publish(ctx, data)
}

func (b *GossipBus) Subscribe(topic string, h Handler) (func(), error) {
	t, err := b.join(topic)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sub == nil {
		sub, err := t.topic.Subscribe()
		if err != nil {
			return nil, err
		}
		subCtx, stop := context.WithCancel(b.ctx)
		t.sub, t.subStop = sub, stop
		go b.readLoop(subCtx, t, sub)
	}

	id := t.nextID
	t.nextID++
	t.handlers[id] = h

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
		// Last local interest gone: stop pulling from the mesh.
		if len(t.handlers) == 0 && t.sub != nil {
			t.subStop()
			t.sub.Cancel()
			t.sub, t.subStop = nil, nil
		}
	}, nil
}

func (b *GossipBus) readLoop(ctx context.Context, t *gossipTopic, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		t.mu.Lock()
		hs := make([]Handler, 0, len(t.handlers))
		for _, h := range t.handlers {
			hs = append(hs, h)
		}
		t.mu.Unlock()
		for _, h := range hs {
			h(msg.Data)
		}
	}
}

func (b *GossipBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string]*gossipTopic)
	b.mu.Unlock()

	b.cancel()
	for _, t := range topics {
		t.mu.Lock()
		if t.sub != nil {
			t.sub.Cancel()
			t.sub = nil
		}
		t.mu.Unlock()
		_ = t.topic.Close()
	}
	return b.h.Close()
}

var _ Bus = (*GossipBus)(nil)
