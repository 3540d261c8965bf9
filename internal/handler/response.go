package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/httputil"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

type messageResponse struct {
	Message string `json:"message"`
}

// decodeJSON reads a JSON request body into dst. An oversize body is reported
// separately from a malformed one.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.ValidationError("Request body too large")
		}
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperrors.ValidationError("Request body too large")
	}
	return apperrors.ValidationError("Invalid request body")
}

// requireUser returns the authenticated user id or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return "", false
	}
	return userID, true
}
