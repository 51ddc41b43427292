package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives events for a subscribed type. Handlers must not block;
// long work belongs on the subscriber's own goroutine or channel.
type Handler func(*Event)

// Subscription identifies a registered handler so it can be removed when the
// subscriber goes away (SSE and WebSocket connections come and go).
type Subscription struct {
	eventType EventType
	id        int
}

// Bus routes events from emitters to subscribers. Dispatch is synchronous
// and in registration order.
type Bus struct {
	log      zerolog.Logger
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType]map[int]Handler
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:      log.With().Str("service", "events").Logger(),
		handlers: make(map[EventType]map[int]Handler),
	}
}

// Subscribe registers a handler for an event type and returns a subscription
// handle for later removal.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	b.nextID++
	b.handlers[eventType][b.nextID] = handler

	return Subscription{eventType: eventType, id: b.nextID}
}

// Unsubscribe removes a previously registered handler
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[sub.eventType]; ok {
		delete(handlers, sub.id)
	}
}

// Emit emits an event to all subscribers of its type
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[eventType]))
	for _, h := range b.handlers[eventType] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}

	// Log event
	eventJSON, _ := json.Marshal(event)
	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		Int("subscribers", len(handlers)).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// EmitError emits an error event
func (b *Bus) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	b.Emit(ErrorOccurred, module, data)
}
