package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/events"
)

// allEventTypes is every event type the streaming endpoints can forward.
var allEventTypes = []events.EventType{
	events.RunQueued,
	events.RunStarted,
	events.IterationCompleted,
	events.RunCompleted,
	events.RunFailed,
	events.CalibrationUpdated,
	events.CalibrationStale,
	events.ArchiveCreated,
	events.SystemStatusChanged,
	events.ErrorOccurred,
	events.JobStarted,
	events.JobCompleted,
	events.JobFailed,
}

// parseTypesFilter parses the comma-separated types query parameter. A nil
// map means no filter.
func parseTypesFilter(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	allowed := make(map[events.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		allowed[events.EventType(strings.TrimSpace(t))] = true
	}
	return allowed
}

// subscribeStream registers handler for the filtered event types (all types
// when the filter is nil) and returns the subscription handles so the caller
// can remove them when the connection goes away.
func subscribeStream(bus *events.Bus, allowed map[events.EventType]bool, handler events.Handler) []events.Subscription {
	var subs []events.Subscription
	if allowed == nil {
		for _, eventType := range allEventTypes {
			subs = append(subs, bus.Subscribe(eventType, handler))
		}
		return subs
	}
	for eventType := range allowed {
		subs = append(subs, bus.Subscribe(eventType, handler))
	}
	return subs
}

// streamEnvelope is the wire shape of one streamed event, shared by the SSE
// and WebSocket endpoints.
func streamEnvelope(event *events.Event) map[string]interface{} {
	return map[string]interface{}{
		"type":      string(event.Type),
		"module":    event.Module,
		"timestamp": event.Timestamp.Format(time.RFC3339),
		"data":      event.Data,
	}
}

// EventsStreamHandler handles Server-Sent Events (SSE) streaming for all
// system events.
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream requests (SSE).
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Get flusher for streaming
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	typesFilter := r.URL.Query().Get("types")
	allowedTypes := parseTypesFilter(typesFilter)

	h.log.Info().
		Str("types_filter", typesFilter).
		Msg("Client connected to event stream")

	// Buffered channel so a slow client cannot stall the bus
	eventChan := make(chan *events.Event, 100)

	eventHandler := func(event *events.Event) {
		// Non-blocking send (drop if channel full)
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}

	// Subscriptions must be removed on disconnect or the bus accumulates
	// dead handlers for every SSE client that ever connected.
	subs := subscribeStream(h.eventBus, allowedTypes, eventHandler)
	defer func() {
		for _, sub := range subs {
			h.eventBus.Unsubscribe(sub)
		}
	}()

	done := r.Context().Done()

	// Send initial connection message
	fmt.Fprintf(w, "data: %s\n\n", h.encodeEvent(map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	}))
	flusher.Flush()

	// Heartbeat ticker to keep connection alive
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			h.log.Debug().
				Str("event_type", string(event.Type)).
				Msg("Sending event to client")

			fmt.Fprintf(w, "data: %s\n\n", h.encodeEvent(streamEnvelope(event)))
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", h.encodeEvent(map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}))
			flusher.Flush()
		}
	}
}

// encodeEvent encodes an event map to JSON string.
func (h *EventsStreamHandler) encodeEvent(event map[string]interface{}) string {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}
