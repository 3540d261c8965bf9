package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	redisclient "github.com/TheCoderAdi/EchoPersona-Backend/internal/redis"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/sse"
)

type BotStatusReader interface {
	Status(userID string) bool
}

// EventsHandler streams away_message, bot_status and duel_winner events for
// the authenticated user.
type EventsHandler struct {
	broker Subscriber
	bots   BotStatusReader
}

func NewEventsHandler(broker Subscriber, bots BotStatusReader) *EventsHandler {
	return &EventsHandler{
		broker: broker,
		bots:   bots,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(redisclient.UserTopic(userID))
	defer h.broker.Unsubscribe(client)

	log.Info().Str("userId", userID).Msg("sse connection established")

	running := false
	if h.bots != nil {
		running = h.bots.Status(userID)
	}
	if err := h.sendEvent(w, flusher, "connected", map[string]any{
		"userId":     userID,
		"botRunning": running,
	}); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("userId", userID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("userId", userID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Str("userId", userID).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("userId", userID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
