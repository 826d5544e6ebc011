package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType is the closed set of lifecycle event topics.
type EventType string

const (
	ProcessingStarted         EventType = "PROCESSING_STARTED"
	ContextLoaded             EventType = "CONTEXT_LOADED"
	RoutingDecision           EventType = "ROUTING_DECISION"
	ModelGenerating           EventType = "MODEL_GENERATING"
	ToolConfirmationRequested EventType = "TOOL_CONFIRMATION_REQUESTED"
	ToolConfirmed             EventType = "TOOL_CONFIRMED"
	ToolDenied                EventType = "TOOL_DENIED"
	ToolExpired               EventType = "TOOL_EXPIRED"
	ProcessingCompleted       EventType = "PROCESSING_COMPLETED"
	ProcessingFailed          EventType = "PROCESSING_FAILED"
)

// Wildcard subscribes a handler to every event type.
const Wildcard EventType = "*"

// Event is one lifecycle notification. TraceID and ChatID are always
// set by publishers.
type Event struct {
	Type      EventType      `json:"type"`
	ChatID    string         `json:"chatId"`
	TraceID   string         `json:"traceId"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Handler processes one delivered event.
type Handler func(Event)

const (
	defaultQueueSize  = 64
	defaultRingEvents = 1000
)

// Subscription is the cancellation handle returned by Subscribe.
type Subscription struct {
	bus       *Bus
	eventType EventType
	queue     chan Event
	done      chan struct{}
	once      sync.Once
}

// Cancel detaches the subscriber and stops its dispatch goroutine.
// Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
}

// Bus is an in-process publish/subscribe hub. Publishing never blocks:
// each subscriber has a bounded queue that drops its oldest entry on
// overflow.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]*Subscription
	closed      bool

	ringMu sync.Mutex
	ring   []Event
	ringAt int
	ringN  int

	dropped       atomic.Int64
	handlerPanics atomic.Int64
	published     atomic.Int64

	logger *zap.Logger
}

// New creates a bus with the default ring-buffer capacity.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[EventType][]*Subscription),
		ring:        make([]Event, defaultRingEvents),
		logger:      logger.With(zap.String("component", "eventbus")),
	}
}

// Subscribe registers handler for eventType (or Wildcard for all
// types) and returns a handle used to cancel it. Delivery to one
// subscriber is ordered; a panicking handler is recovered and counted.
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	sub := &Subscription{
		bus:       b,
		eventType: eventType,
		queue:     make(chan Event, defaultQueueSize),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.mu.Unlock()

	go b.dispatch(sub, handler)
	return sub
}

// Publish stamps the event time if unset, records it in the ring
// buffer, and enqueues it for every subscriber of its type.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.published.Add(1)
	b.record(event)

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subscribers[event.Type])+len(b.subscribers[Wildcard]))
	subs = append(subs, b.subscribers[event.Type]...)
	subs = append(subs, b.subscribers[Wildcard]...)
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	for _, sub := range subs {
		b.enqueue(sub, event)
	}
}

// Recent returns up to n most recent events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()
	if n <= 0 || n > b.ringN {
		n = b.ringN
	}
	out := make([]Event, n)
	start := b.ringAt - n
	if start < 0 {
		start += len(b.ring)
	}
	for i := 0; i < n; i++ {
		out[i] = b.ring[(start+i)%len(b.ring)]
	}
	return out
}

// Stats reports publish, drop and handler-panic counters.
func (b *Bus) Stats() map[string]int64 {
	return map[string]int64{
		"published":      b.published.Load(),
		"dropped":        b.dropped.Load(),
		"handler_panics": b.handlerPanics.Load(),
	}
}

// Close cancels all subscriptions. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	var all []*Subscription
	for _, subs := range b.subscribers {
		all = append(all, subs...)
	}
	b.subscribers = make(map[EventType][]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() { close(sub.done) })
	}
}

func (b *Bus) dispatch(sub *Subscription, handler Handler) {
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			b.invoke(handler, ev)
		}
	}
}

func (b *Bus) invoke(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			b.logger.Error("event handler panic",
				zap.String("event_type", string(ev.Type)),
				zap.String("trace_id", ev.TraceID),
				zap.Any("panic", r))
		}
	}()
	handler(ev)
}

// enqueue never blocks the publisher: on a full queue the oldest
// pending event is dropped to make room.
func (b *Bus) enqueue(sub *Subscription, ev Event) {
	select {
	case sub.queue <- ev:
		return
	default:
	}

	select {
	case <-sub.queue:
		b.dropped.Add(1)
	default:
	}

	select {
	case sub.queue <- ev:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bus) record(ev Event) {
	b.ringMu.Lock()
	b.ring[b.ringAt] = ev
	b.ringAt = (b.ringAt + 1) % len(b.ring)
	if b.ringN < len(b.ring) {
		b.ringN++
	}
	b.ringMu.Unlock()
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[sub.eventType]
	for i, s := range subs {
		if s == sub {
			b.subscribers[sub.eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}
