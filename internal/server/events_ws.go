package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/qerplab/qerp/internal/events"
)

// wsWriteWait bounds a single WebSocket write.
const wsWriteWait = 10 * time.Second

// EventsWSHandler streams system events over a WebSocket connection. It
// sends the same envelopes as the SSE endpoint and suits clients behind
// proxies that buffer SSE responses.
type EventsWSHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsWSHandler creates a new events WebSocket handler.
func NewEventsWSHandler(eventBus *events.Bus, log zerolog.Logger) *EventsWSHandler {
	return &EventsWSHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws requests.
func (h *EventsWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	typesFilter := r.URL.Query().Get("types")
	allowedTypes := parseTypesFilter(typesFilter)

	h.log.Info().
		Str("types_filter", typesFilter).
		Msg("Client connected to event WebSocket")

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

	subs := subscribeStream(h.eventBus, allowedTypes, eventHandler)
	defer func() {
		for _, sub := range subs {
			h.eventBus.Unsubscribe(sub)
		}
	}()

	// The stream is write-only. CloseRead discards incoming frames and
	// cancels the context when the peer closes the connection.
	ctx := conn.CloseRead(r.Context())

	if err := h.write(ctx, conn, map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	}); err != nil {
		h.logWriteError(err)
		return
	}

	// Heartbeat ticker to keep connection alive
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event WebSocket")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-eventChan:
			h.log.Debug().
				Str("event_type", string(event.Type)).
				Msg("Sending event to client")

			if err := h.write(ctx, conn, streamEnvelope(event)); err != nil {
				h.logWriteError(err)
				return
			}

		case <-heartbeat.C:
			if err := h.write(ctx, conn, map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}); err != nil {
				h.logWriteError(err)
				return
			}
		}
	}
}

// write marshals payload and sends it as one text message.
func (h *EventsWSHandler) write(ctx context.Context, conn *websocket.Conn, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		data = []byte(`{"error":"failed to encode event"}`)
	}

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// logWriteError separates expected client disconnects from real failures.
func (h *EventsWSHandler) logWriteError(err error) {
	closeStatus := websocket.CloseStatus(err)
	if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
		h.log.Info().Msg("WebSocket closed by client")
		return
	}
	h.log.Warn().Err(err).Msg("WebSocket write failed")
}
