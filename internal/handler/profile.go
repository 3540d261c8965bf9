package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/audit"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/service"
)

type ProfileManager interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	SaveProfile(ctx context.Context, userID string, profile model.Profile) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, patch json.RawMessage) (*model.User, error)
	SetMode(ctx context.Context, userID, mode string) (*model.User, error)
	GetPlan(ctx context.Context, userID string) (model.Plan, error)
	Subscribe(ctx context.Context, userID, plan, txHash string) (*model.User, error)
	Analytics(ctx context.Context, userID string) (*service.Analytics, error)
}

type PresenceSetter interface {
	SetPresence(ctx context.Context, userID string, away bool) (*model.User, error)
}

type AwaySessions interface {
	SessionsForUser(ctx context.Context, userID string) ([]model.AwaySessionLog, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, userID string, sessions []model.AwaySessionLog) ([]service.SessionSummary, error)
}

// ProfileHandler serves the profile, presence, plan and analytics surface.
type ProfileHandler struct {
	profiles ProfileManager
	presence PresenceSetter
	sessions AwaySessions
	summary  Summarizer
}

func NewProfileHandler(profiles ProfileManager, presence PresenceSetter, sessions AwaySessions, summary Summarizer) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		presence: presence,
		sessions: sessions,
		summary:  summary,
	}
}

func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.Me)
	r.Get("/profile", h.GetProfile)
	r.Post("/profile", h.SetupProfile)
	r.Patch("/profile", h.UpdateProfile)
	r.Post("/mode", h.SetMode)
	r.Post("/away", h.SetAway)
	r.Get("/away/sessions", h.AwaySessions)
	r.Post("/away/summary", h.AwaySummary)
	r.Get("/subscription", h.GetSubscription)
	r.Post("/subscription", h.Subscribe)
	r.Get("/analytics", h.Analytics)
}

// GET /api/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":        user.UserID,
		"email":         user.Email,
		"emailVerified": user.EmailVerified,
		"plan":          user.Plan,
		"mode":          user.Mode,
		"away":          user.Away,
	})
}

// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// POST /api/profile
func (h *ProfileHandler) SetupProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var profile model.Profile
	if err := decodeJSON(r, &profile); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.profiles.SaveProfile(r.Context(), userID, profile)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PATCH /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var patch json.RawMessage
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.profiles.UpdateProfile(r.Context(), userID, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// POST /api/mode
func (h *ProfileHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.profiles.SetMode(r.Context(), userID, req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Mode switched to " + string(user.Mode) + ".",
		"mode":    user.Mode,
	})
}

// POST /api/away
func (h *ProfileHandler) SetAway(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Away *bool `json:"away"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Away == nil {
		writeError(w, apperrors.MissingRequired("away"))
		return
	}

	user, err := h.presence.SetPresence(r.Context(), userID, *req.Away)
	if err != nil {
		writeError(w, err)
		return
	}

	status := "available"
	if user.Away {
		status = "away"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "User status set to " + status + ".",
		"away":    user.Away,
	})
}

// GET /api/away/sessions
func (h *ProfileHandler) AwaySessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	sessions, err := h.sessions.SessionsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []model.AwaySessionLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// POST /api/away/summary
func (h *ProfileHandler) AwaySummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Sessions []model.AwaySessionLog `json:"sessions"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	summaries, err := h.summary.Summarize(r.Context(), userID, req.Sessions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

// GET /api/subscription
func (h *ProfileHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	plan, err := h.profiles.GetPlan(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "plan": plan})
}

// POST /api/subscription
func (h *ProfileHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Plan   string `json:"plan"`
		TxHash string `json:"txHash"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.profiles.Subscribe(r.Context(), userID, req.Plan, req.TxHash)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventPlanChange,
		UserID:  userID,
		Details: map[string]any{"plan": string(user.Plan)},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Subscribed to " + string(user.Plan) + ".",
		"plan":         user.Plan,
		"txHash":       user.TxHash,
		"subscribedAt": user.SubscribedAt,
	})
}

// GET /api/analytics
func (h *ProfileHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	analytics, err := h.profiles.Analytics(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}
