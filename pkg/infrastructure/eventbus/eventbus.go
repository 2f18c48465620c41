// Package eventbus provides the in-process implementation of domain.EventBus.
// Platform adapters publish converted messages into it and collectors
// subscribe to it.
package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/logger"
)

type subscription struct {
	id      domain.SubscriptionID
	handler domain.EventHandler
}

// InProcessEventBus is a synchronous in-process event bus.
// Publish dispatches on the caller's goroutine. The handler list is
// snapshotted before dispatch, so handlers may subscribe or unsubscribe
// (including themselves) while being called.
type InProcessEventBus struct {
	handlers    map[domain.EventType][]subscription
	allHandlers []subscription
	mu          sync.RWMutex
	closed      bool
}

// New creates a new in-process event bus.
func New() *InProcessEventBus {
	return &InProcessEventBus{
		handlers: make(map[domain.EventType][]subscription),
	}
}

// Publish dispatches an event to all matching handlers.
// Handlers for the specific event type are called first, then global handlers.
func (b *InProcessEventBus) Publish(event domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	typed := b.handlers[event.EventType()]
	targets := make([]subscription, 0, len(typed)+len(b.allHandlers))
	targets = append(targets, typed...)
	targets = append(targets, b.allHandlers...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.dispatch(event, sub)
	}
}

func (b *InProcessEventBus) dispatch(event domain.Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("eventbus", "Event handler panicked", map[string]interface{}{
				"panic":        r,
				"event_type":   string(event.EventType()),
				"subscription": string(sub.id),
			})
		}
	}()
	sub.handler(event)
}

// Subscribe registers a handler for a specific event type.
func (b *InProcessEventBus) Subscribe(eventType domain.EventType, handler domain.EventHandler) domain.SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := domain.SubscriptionID(uuid.NewString())
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers a handler that receives every event.
func (b *InProcessEventBus) SubscribeAll(handler domain.EventHandler) domain.SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := domain.SubscriptionID(uuid.NewString())
	b.allHandlers = append(b.allHandlers, subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a handler registered with Subscribe. An empty event
// type removes a handler registered with SubscribeAll.
func (b *InProcessEventBus) Unsubscribe(eventType domain.EventType, id domain.SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if eventType == "" {
		var ok bool
		b.allHandlers, ok = without(b.allHandlers, id)
		return ok
	}

	subs, ok := without(b.handlers[eventType], id)
	if !ok {
		return false
	}
	if len(subs) == 0 {
		delete(b.handlers, eventType)
	} else {
		b.handlers[eventType] = subs
	}
	return true
}

// without returns a copy of subs minus id. Published snapshots keep
// pointing at the old backing array.
func without(subs []subscription, id domain.SubscriptionID) ([]subscription, bool) {
	for i, s := range subs {
		if s.id != id {
			continue
		}
		out := make([]subscription, 0, len(subs)-1)
		out = append(out, subs[:i]...)
		out = append(out, subs[i+1:]...)
		return out, true
	}
	return subs, false
}

// Close marks the bus as closed. No more events will be dispatched.
func (b *InProcessEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
}

// PublishAll dispatches multiple events in order.
func (b *InProcessEventBus) PublishAll(events []domain.Event) {
	for _, event := range events {
		b.Publish(event)
	}
}

// HandlerCount returns the total number of registered handlers (for diagnostics).
func (b *InProcessEventBus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allHandlers)
	for _, handlers := range b.handlers {
		count += len(handlers)
	}
	return count
}

// Verify interface compliance at compile time.
var _ domain.EventBus = (*InProcessEventBus)(nil)
