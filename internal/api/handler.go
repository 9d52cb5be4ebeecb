// Package api provides HTTP handlers for the mock support-desk backend.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/deskline/internal/mockdesk"
)

const maxBodyBytes = 1 << 20

// Handler serves the REST surface over a mock backend.
type Handler struct {
	backend *mockdesk.Backend
	logger  *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(backend *mockdesk.Backend, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{backend: backend, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON request body, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// backendError maps backend errors to HTTP statuses.
func (h *Handler) backendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mockdesk.ErrInvalidInput):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, mockdesk.ErrEmailTaken):
		Error(w, http.StatusConflict, "Email is already registered")
	case errors.Is(err, mockdesk.ErrInvalidCredentials):
		Error(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, mockdesk.ErrInvalidToken):
		Error(w, http.StatusUnauthorized, "Invalid or expired refresh token")
	case errors.Is(err, mockdesk.ErrNotFound):
		Error(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error("Request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
