package domain

import "time"

// ---------------------------------------------------------------------------
// Domain event system
// ---------------------------------------------------------------------------

// EventType classifies domain events for routing and filtering.
type EventType string

const (
	// Channel context events
	EventMessageCreated EventType = "channel.message.created"

	// Collector context events
	EventCollectorStarted  EventType = "collector.started"
	EventCollectorFinished EventType = "collector.finished"
)

// Event is the interface all domain events implement.
type Event interface {
	// EventType returns the classified event type.
	EventType() EventType
	// OccurredAt returns when the event happened.
	OccurredAt() time.Time
	// AggregateID returns the ID of the entity that produced this event.
	AggregateID() EntityID
	// Payload returns the event-specific data.
	Payload() interface{}
}

// BaseEvent provides a reusable implementation of the Event interface.
type BaseEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	AggID     EntityID    `json:"aggregate_id"`
	EventData interface{} `json:"data,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() EntityID { return e.AggID }
func (e BaseEvent) Payload() interface{}  { return e.EventData }

// NewEvent creates a new domain event.
func NewEvent(eventType EventType, aggregateID EntityID, data interface{}) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		AggID:     aggregateID,
		EventData: data,
	}
}

// ---------------------------------------------------------------------------
// Event sources and the event bus
// ---------------------------------------------------------------------------

// EventHandler processes a domain event.
type EventHandler func(Event)

// SubscriptionID identifies a registered handler so it can be removed later.
type SubscriptionID string

// EventSource is anything that delivers events by type and lets a consumer
// detach again. Platform adapters and the in-process bus implement it.
type EventSource interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID
	// Unsubscribe removes a handler. It reports whether the handler was found.
	Unsubscribe(eventType EventType, id SubscriptionID) bool
}

// EventBus dispatches domain events to registered handlers.
type EventBus interface {
	EventSource
	// Publish dispatches an event to all registered handlers.
	Publish(event Event)
	// SubscribeAll registers a handler that receives every event.
	SubscribeAll(handler EventHandler) SubscriptionID
	// Close shuts down the event bus.
	Close()
}
