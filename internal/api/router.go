package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/deskline/internal/identity"
	"github.com/ashureev/deskline/internal/middleware"
	"github.com/ashureev/deskline/internal/mockdesk"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig wires the mock backend's HTTP surface.
type RouterConfig struct {
	Backend        *mockdesk.Backend
	Hub            *mockdesk.HubServer
	HubPath        string
	AllowedOrigins []string
	// AccessLog enables chi's request logger.
	AccessLog bool
	Logger    *slog.Logger
}

// NewRouter builds the chi router for the REST routes and the hub endpoint.
func NewRouter(cfg RouterConfig) http.Handler {
	h := NewHandler(cfg.Backend, cfg.Logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if cfg.AccessLog {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins}))

	// Public routes.
	r.Get("/health", h.Health)
	r.Post("/agent/register", h.Register)
	r.Post("/agent/login", h.Login)
	r.Post("/agent/refresh", h.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.Backend))

		h.RegisterAgentRoutes(r)
		h.RegisterSessionRoutes(r)
		if cfg.Hub != nil {
			r.Get(cfg.HubPath, cfg.Hub.ServeHTTP)
		}
	})
	return r
}
