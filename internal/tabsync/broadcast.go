// Package tabsync coordinates cache state across same-origin execution
// contexts: invalidation/refresh fan-out over a best-effort broadcast
// channel, plus leader election for singleton background work. Delivery
// is unordered and at-most-once; anything correctness-critical must
// tolerate duplicate execution, election only reduces it.
package tabsync

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Message types carried on the channel.
const (
	TypeLeaderPing   = "leader-ping"
	TypeLeaderPong   = "leader-pong"
	TypeInvalidate   = "invalidate"
	TypeSyncComplete = "sync-complete"
	TypeQueueUpdate  = "queue-update"
)

// Message is one broadcast datagram. Transient; never persisted.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TabID     string          `json:"tab_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// InvalidatePayload is the payload of TypeInvalidate messages.
type InvalidatePayload struct {
	Target string `json:"target"`
	Cause  string `json:"cause"`
}

// Broadcaster is the transport under the sync manager. Best-effort:
// sends may be dropped, delivery order is not guaranteed.
type Broadcaster interface {
	// Publish sends a message to all peers (possibly including self;
	// receivers filter their own TabID).
	Publish(ctx context.Context, msg Message) error

	// Subscribe returns the inbound message stream. The channel closes
	// when the broadcaster closes.
	Subscribe(ctx context.Context) (<-chan Message, error)

	// Close tears the transport down.
	Close() error
}

// LocalBus links in-process broadcasters, used in tests and in
// single-process deployments. Each Endpoint behaves like one tab.
type LocalBus struct {
	mu        sync.Mutex
	endpoints []*LocalBroadcaster
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

// Endpoint attaches a new broadcaster to the bus.
func (b *LocalBus) Endpoint() *LocalBroadcaster {
	ep := &LocalBroadcaster{
		bus: b,
		ch:  make(chan Message, 64),
	}

	b.mu.Lock()
	b.endpoints = append(b.endpoints, ep)
	b.mu.Unlock()

	return ep
}

func (b *LocalBus) fanout(from *LocalBroadcaster, msg Message) {
	b.mu.Lock()
	endpoints := append([]*LocalBroadcaster(nil), b.endpoints...)
	b.mu.Unlock()

	for _, ep := range endpoints {
		if ep == from {
			continue
		}
		// Best-effort: drop instead of blocking a slow receiver.
		select {
		case ep.ch <- msg:
		default:
		}
	}
}

func (b *LocalBus) detach(ep *LocalBroadcaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.endpoints {
		if e == ep {
			b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
			break
		}
	}
}

// LocalBroadcaster is one endpoint of a LocalBus.
type LocalBroadcaster struct {
	bus      *LocalBus
	ch       chan Message
	closeOne sync.Once
}

// Publish fans the message out to every other endpoint.
func (l *LocalBroadcaster) Publish(ctx context.Context, msg Message) error {
	l.bus.fanout(l, msg)
	return nil
}

// Subscribe returns this endpoint's inbound stream.
func (l *LocalBroadcaster) Subscribe(ctx context.Context) (<-chan Message, error) {
	return l.ch, nil
}

// Close detaches from the bus.
func (l *LocalBroadcaster) Close() error {
	l.closeOne.Do(func() {
		l.bus.detach(l)
		close(l.ch)
	})
	return nil
}
