package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"poolwatch/pkg/events"
	"poolwatch/pkg/logger"
	"poolwatch/pkg/stream"
)

// DefaultQueueSize is the processing queue capacity used when Options leaves it unset
const DefaultQueueSize = 1024

// ErrStopped is returned by Run once the engine has been stopped
var ErrStopped = errors.New("reconcile engine stopped")

// Options configures an Engine
type Options struct {
	QueueSize int
	Limits    events.Limits // applied by HandleMessage
	Now       func() time.Time
}

// StreamError records the transport errors reported on one stream.
// Errors never clear reconciled state.
type StreamError struct {
	Stream  events.StreamKind `json:"stream"`
	Message string            `json:"message"`
	Count   int               `json:"count"`
	LastAt  time.Time         `json:"lastAt"`
}

// Engine owns the index table, the four histories and the filter state.
// Writes go through Apply (one event at a time, to completion) and the
// filter mutations; readers get copies.
type Engine struct {
	mu sync.RWMutex

	indices  *IndexTable
	datasets *History[events.DataSetEvent]
	queues   *History[events.QueueEvent]
	pools    *History[events.WorkerPoolStatusEvent]
	apps     *History[events.ApplicationSpecEvent]
	filters  *FilterState
	cache    *ModelCache

	revision     uint64
	accepted     map[events.StreamKind]int
	coalesced    int
	dropped      int
	streamErrors map[events.StreamKind]*StreamError

	limits   events.Limits
	queue    chan stream.Message
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewEngine creates an engine with empty state
func NewEngine(opts Options) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		indices:      NewIndexTable(),
		datasets:     NewHistory[events.DataSetEvent](),
		queues:       NewHistory[events.QueueEvent](),
		pools:        NewHistory[events.WorkerPoolStatusEvent](),
		apps:         NewHistory[events.ApplicationSpecEvent](),
		filters:      NewFilterState(),
		cache:        NewModelCache(),
		accepted:     make(map[events.StreamKind]int),
		streamErrors: make(map[events.StreamKind]*StreamError),
		limits:       opts.Limits,
		queue:        make(chan stream.Message, opts.QueueSize),
		done:         make(chan struct{}),
		now:          opts.Now,
	}
}

// Apply reduces one event into the state. It returns false when the event
// was coalesced with the previous event of the same label.
func (e *Engine) Apply(ev events.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(ev)
}

func (e *Engine) applyLocked(ev events.Event) bool {
	var appended bool
	switch ev := ev.(type) {
	case events.DataSetEvent:
		e.indices.IndexOf(events.KindDataSets, ev.DataSet, ev.Idx)
		appended = e.datasets.Append(ev.DataSet, ev)
	case events.QueueEvent:
		e.indices.IndexOf(events.KindWorkerPools, ev.WorkerPool, nil)
		e.indices.IndexOf(events.KindTaskQueues, ev.DataSet, nil)
		appended = e.queues.Append(ev.WorkerPool, ev)
	case events.WorkerPoolStatusEvent:
		e.indices.IndexOf(events.KindWorkerPools, ev.WorkerPool, nil)
		appended = e.pools.Append(ev.WorkerPool, ev)
	case events.ApplicationSpecEvent:
		e.indices.IndexOf(events.KindApplications, ev.Application, nil)
		appended = e.apps.Append(ev.Application, ev)
	default:
		logger.Warnf("reconcile: ignoring event of unsupported type %T", ev)
		return false
	}

	if !appended {
		e.coalesced++
		return false
	}
	e.accepted[ev.Stream()]++
	e.revision++
	return true
}

// HandleMessage decodes and applies one stream message. Transport errors are
// recorded; malformed payloads are logged, counted and dropped.
func (e *Engine) HandleMessage(msg stream.Message) error {
	if msg.IsError() {
		e.recordStreamError(msg)
		return nil
	}

	evs, err := events.DecodeWithLimits(msg.Stream, msg.Data, e.limits)
	if err != nil {
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		logger.Warnf("reconcile: dropping message on %s: %v", msg.Stream, err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range evs {
		e.applyLocked(ev)
	}
	return nil
}

func (e *Engine) recordStreamError(msg stream.Message) {
	at := msg.ReceivedAt
	if at.IsZero() {
		at = e.now()
	}

	e.mu.Lock()
	se, ok := e.streamErrors[msg.Stream]
	if !ok {
		se = &StreamError{Stream: msg.Stream}
		e.streamErrors[msg.Stream] = se
	}
	se.Message = msg.Err.Error()
	se.Count++
	se.LastAt = at
	count := se.Count
	e.mu.Unlock()

	logger.Warnf("reconcile: stream %s reported error (%d so far): %v", msg.Stream, count, msg.Err)
}

// Attach subscribes the engine to every stream of hub. Messages are queued
// for Run; the returned func revokes all subscriptions and may be called
// more than once.
func (e *Engine) Attach(hub *stream.Hub) func() {
	subs := make([]*stream.Subscription, 0, len(events.Streams))
	for _, s := range events.Streams {
		subs = append(subs, hub.Subscribe(s, e.enqueue))
	}
	return func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}
}

// enqueue blocks while the queue is full, pushing back on the publisher
func (e *Engine) enqueue(msg stream.Message) {
	select {
	case e.queue <- msg:
	case <-e.done:
	}
}

// Run drains the processing queue one message at a time until ctx is done
// or Stop is called
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return ctx.Err()
		case <-e.done:
			return ErrStopped
		case msg := <-e.queue:
			_ = e.HandleMessage(msg)
		}
	}
}

// Stop releases publishers blocked on a full queue. Queued messages are discarded.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
	})
}

// Pending returns the number of queued, unprocessed messages
func (e *Engine) Pending() int {
	return len(e.queue)
}

// Revision increases with every accepted event and filter change
func (e *Engine) Revision() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.revision
}

// StreamErrors returns a copy of the recorded stream errors
func (e *Engine) StreamErrors() map[events.StreamKind]StreamError {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[events.StreamKind]StreamError, len(e.streamErrors))
	for k, v := range e.streamErrors {
		out[k] = *v
	}
	return out
}
