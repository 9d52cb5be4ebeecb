package api

import (
	"net/http"
	"strconv"

	"github.com/ashureev/deskline/internal/domain"
	"github.com/ashureev/deskline/internal/identity"
	"github.com/go-chi/chi/v5"
)

// RegisterSessionRoutes registers the chat session routes.
func (h *Handler) RegisterSessionRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/{id}", h.GetSession)
		r.Get("/{id}/messages", h.Messages)
		r.Post("/{id}/messages", h.PostMessage)
	})
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.backend.CreateSession(identity.AgentIDFromContext(r.Context()), req)
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusCreated, s)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.backend.Session(chi.URLParam(r, "id"))
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, err := h.backend.Messages(chi.URLParam(r, "id"), domain.MessagesQuery{
		After: q.Get("after"),
		Limit: limit,
	})
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, page)
}

// PostMessage stores an agent message and pushes it to the session room.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req domain.SendMessageRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.backend.PostMessage(chi.URLParam(r, "id"), identity.AgentIDFromContext(r.Context()), req)
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}
