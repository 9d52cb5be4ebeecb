package api

import (
	"net/http"
	"strconv"

	"github.com/ashureev/deskline/internal/domain"
	"github.com/ashureev/deskline/internal/identity"
	"github.com/go-chi/chi/v5"
)

// RegisterAgentRoutes registers the authenticated agent routes.
func (h *Handler) RegisterAgentRoutes(r chi.Router) {
	r.Get("/agent", h.ListAgents)
	r.Route("/agent/{id}", func(r chi.Router) {
		r.Get("/status", h.AgentStatus)
		r.With(requireSelf).Post("/logout", h.Logout)
		r.With(requireSelf).Post("/heartbeat", h.Heartbeat)
	})
}

// requireSelf forbids acting on another agent's id.
func requireSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != identity.AgentIDFromContext(r.Context()) {
			Error(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Register creates an agent account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.backend.Register(req)
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusCreated, resp)
}

// Login exchanges credentials for a token pair.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.backend.Login(req)
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Refresh rotates a refresh token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req domain.RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.backend.Refresh(req.RefreshToken)
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Logout(chi.URLParam(r, "id")); err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, domain.LogoutResponse{Message: "Logged out successfully"})
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	resp, err := h.backend.Heartbeat(chi.URLParam(r, "id"))
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (h *Handler) AgentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.backend.AgentStatus(chi.URLParam(r, "id"))
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

// ListAgents pages through the directory. Malformed numbers fall back to
// defaults.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	JSON(w, http.StatusOK, h.backend.ListAgents(domain.ListAgentsParams{
		Search:   q.Get("search"),
		Page:     page,
		PageSize: pageSize,
	}))
}

// Health returns 503 when the backend reports Unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.backend.Health()
	status := http.StatusOK
	if report.Status.Is(domain.HealthUnhealthy) {
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, report)
}
