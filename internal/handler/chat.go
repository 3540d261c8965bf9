package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/service"
)

type Responder interface {
	StreamChat(ctx context.Context, userID, input string, emit service.EmitFunc) (*model.ChatTurn, error)
	Mimic(ctx context.Context, userID, message string, tag model.ChannelTag) (string, error)
	DraftEmail(ctx context.Context, userID string, params service.DraftEmailParams) (string, error)
}

type TranscriptReader interface {
	Transcript(ctx context.Context, userID string, limit, offset int) ([]model.ChatTurn, int, error)
}

type ChatHandler struct {
	responder Responder
	history   TranscriptReader
}

func NewChatHandler(responder Responder, history TranscriptReader) *ChatHandler {
	return &ChatHandler{responder: responder, history: history}
}

// RegisterRoutes adds the request/response endpoints. Chat streams are
// registered separately so they escape the request timeout.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Get("/chat", h.Transcript)
	r.Post("/draft-email", h.DraftEmail)
	r.Post("/receive-message", h.ReceiveMessage)
}

// POST /api/chat
// Streams the live reply as chunked text/plain. Errors raised before the
// first chunk are returned as JSON; later failures end the stream early.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Input string `json:"input"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, apperrors.MissingRequired("input"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	started := false
	emit := func(chunk string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	turn, err := h.responder.StreamChat(r.Context(), userID, req.Input, emit)
	if err != nil {
		if started {
			log.Warn().Err(err).Str("userId", userID).Msg("chat stream aborted")
			return
		}
		writeError(w, err)
		return
	}
	if !started {
		// Upstream produced no text; still answer with an empty body.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
	if turn != nil {
		log.Debug().Str("userId", userID).Str("turnId", turn.ID).Msg("chat stream finished")
	}
}

// GET /api/chat
func (h *ChatHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	p := ParsePagination(r)
	turns, total, err := h.history.Transcript(r.Context(), userID, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(turns, total, p))
}

// POST /api/draft-email
func (h *ChatHandler) DraftEmail(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Recipient string `json:"recipient"`
		Subject   string `json:"subject"`
		Context   string `json:"context"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Recipient == "" || req.Subject == "" {
		writeError(w, apperrors.MissingRequired("recipient and subject"))
		return
	}

	draft, err := h.responder.DraftEmail(r.Context(), userID, service.DraftEmailParams{
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Context:   req.Context,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"userId":    userID,
		"recipient": req.Recipient,
		"subject":   req.Subject,
		"draft":     draft,
	})
}

// POST /api/receive-message
// The same mimic entry point listeners use, exposed for external integrations.
func (h *ChatHandler) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Message    string `json:"message"`
		ChannelTag string `json:"channelTag"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, apperrors.MissingRequired("message"))
		return
	}

	tag := model.ChannelMatrix
	if req.ChannelTag != "" {
		tag = model.ChannelTag(req.ChannelTag)
		if !tag.Valid() {
			writeError(w, apperrors.InvalidInput("channelTag", "must be 'general' or 'matrix'"))
			return
		}
	}

	reply, err := h.responder.Mimic(r.Context(), userID, req.Message, tag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"userId":    userID,
		"message":   req.Message,
		"autoReply": reply,
		"status":    "Reply sent",
	})
}
