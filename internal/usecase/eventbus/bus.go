package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"agntschat/internal/domain"
)

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscriber owns a mailbox that is drained by at most one goroutine, so a
// handler sees events in publish order and never runs concurrently with
// itself.
type subscriber struct {
	id        uint64
	eventType domain.EventType // empty for all events
	handler   domain.EventHandler

	mu      sync.Mutex
	queue   []delivery
	running bool
}

// Bus is an in-process, goroutine-safe event bus. Publishing never blocks on
// handlers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ domain.EventBus = (*Bus)(nil)

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		logger: logger,
	}
}

// Publish queues the event for every matching subscriber. Handlers receive a
// context that keeps the publisher's values but not its cancellation, so a
// finished request does not abort the work it triggered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	d := delivery{ctx: context.WithoutCancel(ctx), event: event}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.eventType == "" || s.eventType == event.Type {
			b.enqueue(s, d)
		}
	}
}

func (b *Bus) enqueue(s *subscriber, d delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, d)
	if s.running {
		return
	}
	s.running = true
	b.wg.Add(1)
	go b.drain(s)
}

func (b *Bus) drain(s *subscriber) {
	defer b.wg.Done()
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		b.invoke(s, d)
	}
}

func (b *Bus) invoke(s *subscriber, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"run_id", d.event.RunID,
				"panic", r,
			)
		}
	}()
	s.handler(d.ctx, d.event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function; events already queued are still delivered.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(eventType domain.EventType, handler domain.EventHandler) func() {
	s := &subscriber{id: b.nextID.Add(1), eventType: eventType, handler: handler}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s.id)
			b.mu.Unlock()
		})
	}
}

// Flush blocks until every queued event has been handled. Publishing may
// continue afterwards.
func (b *Bus) Flush() {
	b.wg.Wait()
}

// Close prevents new publishes and waits for queued events to be handled.
// Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}
