package service

import "sync"

// EventType defines the type of event
type EventType string

const (
	EventCatalogImported EventType = "catalog_imported"
	EventEntityDeleted   EventType = "entity_deleted"
	EventCatalogCleared  EventType = "catalog_cleared"
	EventGraphResolved   EventType = "graph_resolved"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// changesCatalog reports whether the event modifies stored entities
func (e Event) changesCatalog() bool {
	switch e.Type {
	case EventCatalogImported, EventEntityDeleted, EventCatalogCleared:
		return true
	}
	return false
}

// EventBus allows publishing and subscribing to events. It is safe for
// concurrent use.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[chan<- Event]struct{}
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[chan<- Event]struct{}),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	eb.subscribers[ch] = struct{}{}
	eb.mu.Unlock()
}

// Unsubscribe removes a subscriber. The channel is not closed.
func (eb *EventBus) Unsubscribe(ch chan<- Event) {
	eb.mu.Lock()
	delete(eb.subscribers, ch)
	eb.mu.Unlock()
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
