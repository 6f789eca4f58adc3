package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"skyport/internal/domain"
)

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns an unbounded mailbox drained by a single goroutine, so a
// subscriber sees events in publish order and a slow subscriber never blocks
// the publisher or its peers.
type subscription struct {
	id      uint64
	handler domain.EventHandler
	bus     *Bus

	mu      sync.Mutex
	pending []delivery
	stopped bool
	wake    chan struct{}
	quit    chan struct{}
	once    sync.Once
}

// enqueue reports false once the subscription has stopped; the delivery is
// then never handled.
func (s *subscription) enqueue(d delivery) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, d)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *subscription) loop() {
	for {
		s.drain()
		select {
		case <-s.wake:
		case <-s.quit:
			s.drain()
			return
		}
	}
}

func (s *subscription) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		d := s.pending[0]
		s.pending[0] = delivery{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.bus.invoke(s, d)
	}
}

// stop refuses further deliveries before signalling the loop, so the loop's
// final drain sees everything that was accepted.
func (s *subscription) stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.quit)
	})
}

// Bus is an in-process, goroutine-safe event bus with per-subscriber ordering.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup // in-flight deliveries
	loops   sync.WaitGroup // mailbox goroutines
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]*subscription),
		logger: logger,
	}
}

// Publish fans out an event to matching typed subscribers and all-event subscribers.
// Delivery is asynchronous but ordered per subscriber. Panicking handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	targets = append(targets, b.typed[event.Type]...)
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.wg.Add(1)
		if !sub.enqueue(delivery{ctx: ctx, event: event}) {
			b.wg.Done()
		}
	}
}

func (b *Bus) invoke(sub *subscription, d delivery) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"subscription", sub.id,
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

func (b *Bus) newSubscription(handler domain.EventHandler) *subscription {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: handler,
		bus:     b,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	b.loops.Add(1)
	go func() {
		defer b.loops.Done()
		sub.loop()
	}()
	return sub
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function. Events already queued for the handler are
// still delivered after unsubscribing.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == sub.id {
				b.typed[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.stop()
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		for i, s := range b.allSubs {
			if s.id == sub.id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.stop()
	}
}

// Close prevents new publishes, waits for every queued delivery to run and
// stops the mailbox goroutines. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()

	b.mu.Lock()
	var subs []*subscription
	for _, list := range b.typed {
		subs = append(subs, list...)
	}
	subs = append(subs, b.allSubs...)
	b.typed = make(map[domain.EventType][]*subscription)
	b.allSubs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	b.loops.Wait()
}
