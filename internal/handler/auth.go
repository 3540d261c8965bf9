package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/audit"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/service"
)

type Authenticator interface {
	Register(ctx context.Context, params service.RegisterParams) (*model.User, error)
	Login(ctx context.Context, userID, password string) (string, error)
	VerifyEmail(ctx context.Context, token string) (*model.User, error)
	ResendVerification(ctx context.Context, userID string) error
}

type AuthHandler struct {
	auth          Authenticator
	loginLimit    func(http.Handler) http.Handler
	registerLimit func(http.Handler) http.Handler
}

// NewAuthHandler takes the limiter middlewares for login and registration;
// nil means unlimited.
func NewAuthHandler(auth Authenticator, loginLimit, registerLimit func(http.Handler) http.Handler) *AuthHandler {
	return &AuthHandler{auth: auth, loginLimit: loginLimit, registerLimit: registerLimit}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(optional(h.registerLimit)).Post("/register", h.Register)
	r.With(optional(h.loginLimit)).Post("/login", h.Login)
	r.Get("/verify-email/{token}", h.VerifyEmail)
	r.With(optional(h.registerLimit)).Post("/resend-verification", h.ResendVerification)

	return r
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userId"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.auth.Register(r.Context(), service.RegisterParams{
		UserID:   req.UserID,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventRegister,
		UserID:  user.UserID,
		Details: map[string]any{"emailVerified": user.EmailVerified},
	})

	message := "Registration successful."
	if !user.EmailVerified {
		message = "Registration successful. Check your inbox to verify your email."
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":        user.UserID,
		"emailVerified": user.EmailVerified,
		"message":       message,
	})
}

// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userId"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" || req.Password == "" {
		writeError(w, apperrors.MissingRequired("userId and password"))
		return
	}

	token, err := h.auth.Login(r.Context(), req.UserID, req.Password)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventLoginFailure,
			UserID:  req.UserID,
			Details: map[string]any{"reason": string(apperrors.GetCode(err))},
		})
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginSuccess, UserID: req.UserID})
	writeJSON(w, http.StatusOK, map[string]string{
		"accessToken": token,
		"tokenType":   "bearer",
	})
}

// GET /auth/verify-email/{token}
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventEmailVerified, UserID: user.UserID})
	writeJSON(w, http.StatusOK, messageResponse{Message: "Email verified. You can now log in."})
}

// POST /auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		writeError(w, apperrors.MissingRequired("userId"))
		return
	}

	if err := h.auth.ResendVerification(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "If the account exists and is unverified, a new link has been sent.",
	})
}
