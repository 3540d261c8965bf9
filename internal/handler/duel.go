package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	redisclient "github.com/TheCoderAdi/EchoPersona-Backend/internal/redis"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/sse"
)

const wsWriteWait = 10 * time.Second

type DuelGame interface {
	Create(ctx context.Context, userID string, path model.MazePath) (*model.Duel, error)
	Guess(ctx context.Context, userID string, duelID int64, path model.MazePath) (*model.DuelGuess, error)
	Reveal(ctx context.Context, userID string, duelID int64, path model.MazePath) (*model.Duel, error)
	Winner(ctx context.Context, duelID int64) (*model.Duel, error)
}

// Subscriber is the topic side of the event broker.
type Subscriber interface {
	Subscribe(topic string) *sse.Client
	Unsubscribe(client *sse.Client)
}

type DuelHandler struct {
	duels    DuelGame
	broker   Subscriber
	upgrader websocket.Upgrader
}

func NewDuelHandler(duels DuelGame, broker Subscriber) *DuelHandler {
	return &DuelHandler{
		duels:  duels,
		broker: broker,
		upgrader: websocket.Upgrader{
			// Sockets authenticate with ?token=, so cookies grant nothing cross-origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *DuelHandler) RegisterRoutes(r chi.Router) {
	r.Post("/duels", h.Create)
	r.Post("/duels/{id}/guess", h.Guess)
	r.Post("/duels/{id}/reveal", h.Reveal)
	r.Get("/duels/{id}/winner", h.Winner)
}

type pathRequest struct {
	Path model.MazePath `json:"path"`
}

func duelID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.InvalidInput("id", "must be a positive integer")
	}
	return id, nil
}

// POST /api/duels
func (h *DuelHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	duel, err := h.duels.Create(r.Context(), userID, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"duelId":   duel.ID,
		"pathHash": duel.PathHash,
	})
}

// POST /api/duels/{id}/guess
func (h *DuelHandler) Guess(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, err := duelID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	guess, err := h.duels.Guess(r.Context(), userID, id, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"duelId":  guess.DuelID,
		"receipt": guess.Receipt,
	})
}

// POST /api/duels/{id}/reveal
func (h *DuelHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, err := duelID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	duel, err := h.duels.Reveal(r.Context(), userID, id, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, duel)
}

// GET /api/duels/{id}/winner
func (h *DuelHandler) Winner(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	id, err := duelID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	duel, err := h.duels.Winner(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"duelId":   duel.ID,
		"revealed": duel.Revealed(),
		"winner":   duel.WinnerID,
	})
}

// GET /api/duels/{id}/ws
// Pushes {"winner": ...} once the duel is revealed, then keeps the socket
// open until the client leaves.
func (h *DuelHandler) WinnerFeed(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	id, err := duelID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Subscribe before reading state so a reveal in between is not missed.
	client := h.broker.Subscribe(redisclient.DuelTopic(id))
	defer h.broker.Unsubscribe(client)

	duel, err := h.duels.Winner(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Int64("duelId", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log.Info().Int64("duelId", id).Msg("duel websocket connected")

	if duel.Revealed() {
		if err := writeWinner(conn, duel.ToSSEEventData()); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(sse.HeartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Debug().Int64("duelId", id).Msg("duel websocket closed by client")
			return
		case <-client.Done:
			return
		case event := <-client.Events:
			if event.Type != sse.EventDuelWinner {
				continue
			}
			if err := writeWinner(conn, event.Data); err != nil {
				log.Debug().Err(err).Int64("duelId", id).Msg("duel websocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeWinner(conn *websocket.Conn, data json.RawMessage) error {
	var payload struct {
		DuelID int64   `json:"duelId"`
		Winner *string `json:"winner"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}
