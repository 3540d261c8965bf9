package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/service"
)

type ShoppingAssistant interface {
	Search(ctx context.Context, userID, prompt string) (*service.ShoppingResult, error)
}

type StoryTeller interface {
	Create(ctx context.Context, userID, prompt, wallet string) (*service.StoryResult, error)
	List(ctx context.Context, userID string, limit, offset int) ([]model.Story, error)
}

// PremiumHandler serves the plan-gated creative features.
type PremiumHandler struct {
	shopping ShoppingAssistant
	stories  StoryTeller
}

func NewPremiumHandler(shopping ShoppingAssistant, stories StoryTeller) *PremiumHandler {
	return &PremiumHandler{shopping: shopping, stories: stories}
}

func (h *PremiumHandler) RegisterRoutes(r chi.Router) {
	r.Post("/shopping", h.Shopping)
	r.Post("/stories", h.CreateStory)
	r.Get("/stories", h.ListStories)
}

// POST /api/shopping
func (h *PremiumHandler) Shopping(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.shopping.Search(r.Context(), userID, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /api/stories
func (h *PremiumHandler) CreateStory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
		Wallet string `json:"wallet"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.stories.Create(r.Context(), userID, req.Prompt, req.Wallet)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GET /api/stories
func (h *PremiumHandler) ListStories(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	p := ParsePagination(r)
	stories, err := h.stories.List(r.Context(), userID, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(stories, 0, p))
}
