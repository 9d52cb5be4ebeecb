// Package desk assembles the client: credential storage, REST client,
// push channel and session orchestrator, wired together without globals.
package desk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/deskline/internal/apiclient"
	"github.com/ashureev/deskline/internal/clock"
	"github.com/ashureev/deskline/internal/config"
	"github.com/ashureev/deskline/internal/hub"
	"github.com/ashureev/deskline/internal/session"
	"github.com/ashureev/deskline/internal/store"
)

// Options overrides construction details. The zero value is production.
type Options struct {
	// Storage replaces the SQLite credentials database.
	Storage store.Storage
	// HTTPClient is used for REST calls and the hub upgrade.
	HTTPClient *http.Client
	Clock      clock.Clock
}

// App owns every client component for one agent session.
type App struct {
	Storage     store.Storage
	Credentials *store.CredentialStore
	API         *apiclient.Client
	Hub         *hub.Client
	Session     *session.Orchestrator

	logger *slog.Logger
}

// New builds the App from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	storage := opts.Storage
	if storage == nil {
		s, err := store.NewSQLite(cfg.CredentialsDB)
		if err != nil {
			return nil, fmt.Errorf("open credentials database: %w", err)
		}
		storage = s
	}
	creds := store.NewCredentialStore(storage, logger.With("component", "credentials"))

	api, err := apiclient.New(apiclient.Config{
		BaseURL:     cfg.APIURL,
		HTTPClient:  opts.HTTPClient,
		Credentials: creds,
		Logger:      logger.With("component", "apiclient"),
		Timeout:     cfg.RequestTimeout,
	})
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("create api client: %w", err)
	}

	channel, err := hub.New(hub.Config{
		BaseURL:              cfg.HubURL,
		HubPath:              cfg.HubPath,
		TokenFunc:            api.AccessToken,
		HTTPClient:           opts.HTTPClient,
		Logger:               logger.With("component", "hub"),
		Clock:                opts.Clock,
		AutoReconnectDelays:  cfg.AutoReconnectDelays,
		ReconnectDelays:      cfg.ReconnectDelays,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		KeepAliveInterval:    hub.DefaultKeepAliveInterval,
		ServerTimeout:        hub.DefaultServerTimeout,
	})
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("create hub client: %w", err)
	}

	orch, err := session.New(session.Config{
		API:                           api,
		Channel:                       channel,
		Credentials:                   creds,
		Logger:                        logger.With("component", "session"),
		Clock:                         opts.Clock,
		HeartbeatInterval:             cfg.HeartbeatInterval,
		ChannelReadyTimeout:           cfg.ChannelReadyTimeout,
		PreserveProfileOnFailedLogout: cfg.PreserveProfileOnFailedLogout,
	})
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	api.OnSessionExpired(orch.HandleSessionExpired)

	return &App{
		Storage:     storage,
		Credentials: creds,
		API:         api,
		Hub:         channel,
		Session:     orch,
		logger:      logger,
	}, nil
}

// Close stops background work, closes the channel and the storage. It
// does not log out: a stored session can be restored next time.
func (a *App) Close(ctx context.Context) error {
	a.Session.Close()
	if err := a.Hub.Disconnect(ctx); err != nil {
		a.logger.Warn("Failed to disconnect hub", "error", err)
	}
	if err := a.Storage.Close(); err != nil {
		return fmt.Errorf("close credentials storage: %w", err)
	}
	return nil
}
