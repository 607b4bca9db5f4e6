// Package stream carries raw event messages from transports (SSE, Redis
// pub/sub, Kubernetes informers, HTTP ingestion, the demo generator) to
// subscribers such as the reconciliation engine.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"poolwatch/pkg/events"
)

// Message is one delivery on a stream: either a raw payload or a transport error
type Message struct {
	Stream     events.StreamKind
	Data       []byte
	Err        error
	ReceivedAt time.Time
}

// IsError reports whether the message is a transport error notification
func (m Message) IsError() bool {
	return m.Err != nil
}

// Handler receives messages of one stream
type Handler func(Message)

// Subscription is a revocable registration of a Handler.
// Cancel is idempotent and safe to call before any message arrived.
type Subscription struct {
	id     string
	stream events.StreamKind
	hub    *Hub
	once   sync.Once
}

// ID returns the subscription identifier
func (s *Subscription) ID() string {
	return s.id
}

// Stream returns the stream the subscription listens on
func (s *Subscription) Stream() events.StreamKind {
	return s.stream
}

// Cancel revokes the subscription
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

type subscriber struct {
	id      string
	handler Handler
}

// Hub is an in-process push transport. Handlers run on the publishing
// goroutine, in subscription order, outside the hub lock.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[events.StreamKind][]subscriber
	now         func() time.Time
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[events.StreamKind][]subscriber),
		now:         time.Now,
	}
}

// Subscribe registers handler on stream
func (h *Hub) Subscribe(stream events.StreamKind, handler Handler) *Subscription {
	sub := &Subscription{id: uuid.NewString(), stream: stream, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[stream] = append(h.subscribers[stream], subscriber{id: sub.id, handler: handler})
	return sub
}

// Unsubscribe revokes sub. Unknown, nil or already revoked subscriptions are ignored.
func (h *Hub) Unsubscribe(stream events.StreamKind, sub *Subscription) {
	if sub == nil || sub.hub != h || sub.stream != stream {
		return
	}
	sub.Cancel()
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[sub.stream]
	for i, s := range subs {
		if s.id == sub.id {
			h.subscribers[sub.stream] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[sub.stream]) == 0 {
		delete(h.subscribers, sub.stream)
	}
}

func (h *Hub) handlers(stream events.StreamKind) []subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.subscribers[stream]
	out := make([]subscriber, len(subs))
	copy(out, subs)
	return out
}

func (h *Hub) deliver(msg Message) int {
	subs := h.handlers(msg.Stream)
	for _, s := range subs {
		s.handler(msg)
	}
	return len(subs)
}

// Publish delivers a raw payload and returns the number of handlers reached
func (h *Hub) Publish(stream events.StreamKind, data []byte) int {
	return h.deliver(Message{Stream: stream, Data: data, ReceivedAt: h.now()})
}

// PublishError delivers a transport error notification
func (h *Hub) PublishError(stream events.StreamKind, err error) int {
	return h.deliver(Message{Stream: stream, Err: err, ReceivedAt: h.now()})
}

// HasSubscribers reports whether stream has at least one handler
func (h *Hub) HasSubscribers(stream events.StreamKind) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[stream]) > 0
}

// Publisher publishes raw payloads onto a stream
type Publisher interface {
	Publish(ctx context.Context, stream events.StreamKind, data []byte) error
}

// HubPublisher publishes straight into a Hub
type HubPublisher struct {
	Hub *Hub
}

// Publish implements Publisher
func (p HubPublisher) Publish(_ context.Context, stream events.StreamKind, data []byte) error {
	p.Hub.Publish(stream, data)
	return nil
}

// Source feeds a hub from an external transport until ctx is done
type Source interface {
	Name() string
	Run(ctx context.Context, hub *Hub) error
}
