package emit

import (
	"context"
	"sync"
	"time"
)

// DefaultSubscriberBuffer is the default per-subscriber channel capacity.
const DefaultSubscriberBuffer = 256

// Bus fans events out to zero or more subscriber channels and to zero or
// more Emitters (log/otel/prometheus backends). Publish is non-blocking for
// the caller: each subscriber has its own bounded buffer, and a subscriber
// that falls behind has its newest events dropped until the buffer drains,
// at which point a SubscriberLagged event reports how many were lost.
//
// Events from a single producer (identified by VertexID) arrive at each
// subscriber in publication order. There is no ordering guarantee across
// different producers.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]*subscription
	nextID      int
	emitter     Emitter
	bufferSize  int
	closed      bool
}

type subscription struct {
	ch      chan Event
	lagged  int
	mu      sync.Mutex
	closeCh chan struct{}
}

// NewBus creates an EventBus. A nil emitter disables the log/trace/metrics
// fan-out; subscriber channels still work.
func NewBus(emitter Emitter, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	if emitter == nil {
		emitter = NewNullEmitter()
	}
	return &Bus{
		subscribers: make(map[int]*subscription),
		emitter:     emitter,
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel of events and an unsubscribe function. The
// channel is closed once Close is called on the bus and fully drained.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{
		ch:      make(chan Event, b.bufferSize),
		closeCh: make(chan struct{}),
	}
	b.subscribers[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(s.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers event to every subscriber and to the configured Emitter.
// It never blocks: a full subscriber buffer drops the event and increments
// that subscriber's lag counter.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	emitter := b.emitter
	b.mu.Unlock()

	for _, s := range subs {
		deliver(s, event)
	}
	if emitter != nil {
		emitter.Emit(event)
	}
}

func deliver(s *subscription, event Event) {
	select {
	case s.ch <- event:
		s.mu.Lock()
		lagged := s.lagged
		s.lagged = 0
		s.mu.Unlock()
		if lagged > 0 {
			select {
			case s.ch <- Event{Kind: SubscriberLagged, RunID: event.RunID, Timestamp: time.Now(), Data: map[string]interface{}{"count": lagged}}:
			default:
			}
		}
	default:
		s.mu.Lock()
		s.lagged++
		s.mu.Unlock()
	}
}

// Flush forwards to the underlying Emitter's Flush.
func (b *Bus) Flush(ctx context.Context) error {
	b.mu.Lock()
	emitter := b.emitter
	b.mu.Unlock()
	if emitter == nil {
		return nil
	}
	return emitter.Flush(ctx)
}

// Close publishes a Done event and closes all subscriber channels. Safe to
// call once per run.
func (b *Bus) Close(runID string) {
	b.Publish(Event{Kind: Done, RunID: runID, Timestamp: time.Now()})

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subscribers {
		close(s.ch)
		delete(b.subscribers, id)
	}
}
