// Event bridge: forwards domain events from the application bus to
// WebSocket clients.
package api

import (
	"sync"

	"github.com/sipeed/msgcollector/pkg/domain"
	"github.com/sipeed/msgcollector/pkg/logger"
)

// EventBridge subscribes to every event on a bus and broadcasts it.
type EventBridge struct {
	events domain.EventBus
	hub    *WSHub

	mu    sync.Mutex
	subID domain.SubscriptionID
}

// NewEventBridge creates a bridge. A nil bus makes Start a no-op.
func NewEventBridge(events domain.EventBus, hub *WSHub) *EventBridge {
	return &EventBridge{events: events, hub: hub}
}

// Start subscribes to the bus. Calling it twice has no effect.
func (eb *EventBridge) Start() {
	if eb.events == nil {
		return
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.subID != "" {
		return
	}
	eb.subID = eb.events.SubscribeAll(eb.forward)
	logger.DebugC("events", "Event bridge started")
}

// Stop unsubscribes from the bus.
func (eb *EventBridge) Stop() {
	eb.mu.Lock()
	id := eb.subID
	eb.subID = ""
	eb.mu.Unlock()
	if id != "" {
		eb.events.Unsubscribe("", id)
	}
}

func (eb *EventBridge) forward(e domain.Event) {
	eb.hub.Broadcast(string(e.EventType()), map[string]interface{}{
		"aggregate_id": e.AggregateID().String(),
		"occurred_at":  e.OccurredAt(),
		"payload":      e.Payload(),
	})
}
