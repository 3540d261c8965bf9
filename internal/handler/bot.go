package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/audit"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/config"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
)

type BotSupervisor interface {
	Initialize(ctx context.Context, userID, token string) error
	Stop(ctx context.Context, userID string) (bool, error)
	Status(userID string) bool
}

type BotHandler struct {
	supervisor BotSupervisor
}

func NewBotHandler(supervisor BotSupervisor) *BotHandler {
	return &BotHandler{supervisor: supervisor}
}

func (h *BotHandler) RegisterRoutes(r chi.Router) {
	r.Post("/bot", h.Start)
	r.Delete("/bot", h.Stop)
	r.Get("/bot", h.Status)
}

// POST /api/bot
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.supervisor.Initialize(r.Context(), userID, strings.TrimSpace(req.Token)); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventBotInit, UserID: userID})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Bot started.",
		"running": true,
	})
}

// DELETE /api/bot
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), config.SupervisorStopTimeout)
	defer cancel()

	stopped, err := h.supervisor.Stop(ctx, userID)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrCodeInternal, "Bot did not stop in time", err))
		return
	}

	message := "No bot running."
	if stopped {
		message = "Bot stopped."
		audit.LogFromRequest(r, audit.Event{Type: audit.EventBotStop, UserID: userID})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": message,
		"running": false,
	})
}

// GET /api/bot
func (h *BotHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":     userID,
		"botRunning": h.supervisor.Status(userID),
	})
}
