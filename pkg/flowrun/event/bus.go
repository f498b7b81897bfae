package event

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// Handler consumes one event. Handlers run on the subscription's own
// goroutine, so a slow handler delays only its own subscription.
type Handler func(Event)

// Bus is an in-memory pub/sub fan-out for run events. The engine
// publishes every lifecycle event to an attached bus, letting observers
// (progress UIs, audit logs) watch runs without consuming the stream.
type Bus struct {
	bufferSize int

	mu     sync.RWMutex
	subs   map[string]*Subscription
	byType map[Type]map[string]*Subscription
	all    map[string]*Subscription

	nextID atomic.Int64
	closed atomic.Bool
}

// NewBus creates a bus. bufferSize is the per-subscription channel buffer;
// values < 1 default to 64.
func NewBus(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &Bus{
		bufferSize: bufferSize,
		subs:       make(map[string]*Subscription),
		byType:     make(map[Type]map[string]*Subscription),
		all:        make(map[string]*Subscription),
	}
}

// Subscription is an active bus subscription.
type Subscription struct {
	id      string
	types   []Type
	handler Handler
	events  chan Event
	done    chan struct{}
	bus     *Bus
}

// Subscribe registers a handler for specific event types.
func (b *Bus) Subscribe(types []Type, handler Handler) *Subscription {
	return b.subscribe(types, handler)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	return b.subscribe(nil, handler)
}

func (b *Bus) subscribe(types []Type, handler Handler) *Subscription {
	if b.closed.Load() || handler == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:      strconv.FormatInt(b.nextID.Add(1), 10),
		types:   types,
		handler: handler,
		events:  make(chan Event, b.bufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	b.subs[sub.id] = sub
	if len(types) == 0 {
		b.all[sub.id] = sub
	} else {
		for _, t := range types {
			if b.byType[t] == nil {
				b.byType[t] = make(map[string]*Subscription)
			}
			b.byType[t][sub.id] = sub
		}
	}

	go sub.process()
	return sub
}

// Publish delivers an event to all matching subscriptions. Delivery
// blocks when a subscription buffer is full, honoring ctx.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.all))
	if typed, ok := b.byType[evt.Type]; ok {
		for _, sub := range typed {
			subs = append(subs, sub)
		}
	}
	for _, sub := range b.all {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.events <- evt:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		close(sub.done)
	}
	b.subs = make(map[string]*Subscription)
	b.byType = make(map[Type]map[string]*Subscription)
	b.all = make(map[string]*Subscription)
	return nil
}

// Unsubscribe removes the subscription.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if _, ok := s.bus.subs[s.id]; !ok {
		return
	}
	delete(s.bus.subs, s.id)
	delete(s.bus.all, s.id)
	for _, t := range s.types {
		if typed, ok := s.bus.byType[t]; ok {
			delete(typed, s.id)
		}
	}
	close(s.done)
}

func (s *Subscription) process() {
	for {
		select {
		case evt := <-s.events:
			s.handler(evt)
		case <-s.done:
			// Drain what was already queued.
			for {
				select {
				case evt := <-s.events:
					s.handler(evt)
				default:
					return
				}
			}
		}
	}
}
