package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/tabletop/internal/engine/scene"
	"github.com/dshills/tabletop/internal/event"
	"github.com/dshills/tabletop/internal/logging"
)

// Peer receives outbound state changes.
type Peer interface {
	Send(ctx context.Context, msg scene.Message) error
}

// PeerFunc adapts a function to the Peer interface.
type PeerFunc func(ctx context.Context, msg scene.Message) error

// Send implements Peer.
func (f PeerFunc) Send(ctx context.Context, msg scene.Message) error {
	return f(ctx, msg)
}

// Outbox queues messages published on the bus until they are flushed to
// peers. Queuing never blocks the publisher.
type Outbox struct {
	mu    sync.Mutex
	queue []scene.Message
	peers []Peer

	bus    *event.Bus
	sub    *event.Subscription
	logger *logging.Logger
}

// NewOutbox subscribes a new outbox to every topic on bus.
func NewOutbox(bus *event.Bus, logger *logging.Logger) (*Outbox, error) {
	o := &Outbox{bus: bus, logger: logger.WithComponent("outbox")}
	sub, err := bus.SubscribeFunc("**", o.handle, event.WithPriority(event.PriorityLow))
	if err != nil {
		return nil, fmt.Errorf("subscribing outbox: %w", err)
	}
	o.sub = sub
	return o, nil
}

func (o *Outbox) handle(_ context.Context, e any) error {
	ev, ok := e.(event.Event[scene.Message])
	if !ok {
		return nil
	}
	o.mu.Lock()
	o.queue = append(o.queue, ev.Payload)
	o.mu.Unlock()
	return nil
}

// AddPeer registers a peer for future flushes.
func (o *Outbox) AddPeer(p Peer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.peers = append(o.peers, p)
}

// Pending returns the queued messages.
func (o *Outbox) Pending() []scene.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]scene.Message(nil), o.queue...)
}

// Drop discards the queued messages.
func (o *Outbox) Drop() {
	o.mu.Lock()
	o.queue = nil
	o.mu.Unlock()
}

// Flush sends every queued message to every peer. Peers are served
// concurrently; each peer receives the messages in order. The queue is
// emptied whether or not delivery succeeds, and the first peer error is
// returned.
func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	msgs := o.queue
	o.queue = nil
	peers := append([]Peer(nil), o.peers...)
	o.mu.Unlock()

	if len(msgs) == 0 || len(peers) == 0 {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i, p := range peers {
		i, p := i, p
		g.Go(func() error {
			for _, msg := range msgs {
				if err := p.Send(gCtx, msg); err != nil {
					o.logger.Warn("peer %d: sending %s: %v", i, msg.Topic, err)
					return fmt.Errorf("peer %d: %w", i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("flushing outbox: %w", err)
	}
	o.logger.Debug("flushed %d messages to %d peers", len(msgs), len(peers))
	return nil
}

// Close unsubscribes the outbox from the bus.
func (o *Outbox) Close() {
	if o.sub != nil {
		_ = o.bus.Unsubscribe(o.sub)
		o.sub = nil
	}
}
