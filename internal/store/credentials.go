package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/deskline/internal/domain"
)

// Storage keys for the persisted credentials.
const (
	KeyAuthToken    = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyAgentID      = "agent_id"
	KeyAgentName    = "agent_name"
	KeyAgentEmail   = "agent_email"
)

var allKeys = []string{KeyAuthToken, KeyRefreshToken, KeyAgentID, KeyAgentName, KeyAgentEmail}

const storageTimeout = 5 * time.Second

// CredentialStore keeps the agent's tokens and identity in memory and
// mirrors every change to Storage. Storage failures are logged and never
// returned: a broken disk degrades to an in-memory session.
type CredentialStore struct {
	storage Storage
	logger  *slog.Logger

	mu      sync.RWMutex
	token   string
	refresh string
	agent   domain.AgentInfo
}

// NewCredentialStore loads any stored credentials from storage.
func NewCredentialStore(storage Storage, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CredentialStore{storage: storage, logger: logger}
	c.load()
	return c
}

func (c *CredentialStore) load() {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	values := make(map[string]string, len(allKeys))
	for _, key := range allKeys {
		v, ok, err := c.storage.Get(ctx, key)
		if err != nil {
			c.logger.Warn("Failed to read stored credentials", "key", key, "error", err)
			continue
		}
		if ok {
			values[key] = v
		}
	}

	c.mu.Lock()
	c.token = values[KeyAuthToken]
	c.refresh = values[KeyRefreshToken]
	c.agent = domain.AgentInfo{
		ID:    values[KeyAgentID],
		Name:  values[KeyAgentName],
		Email: values[KeyAgentEmail],
	}
	c.mu.Unlock()
}

// SetToken stores a new access token. An empty refreshToken keeps the
// current one; an empty token clears everything.
func (c *CredentialStore) SetToken(token, refreshToken string) {
	if token == "" {
		c.Clear()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.put(KeyAuthToken, token)
	if refreshToken != "" {
		c.refresh = refreshToken
		c.put(KeyRefreshToken, refreshToken)
	}
}

// Token returns the access token or "".
func (c *CredentialStore) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// RefreshToken returns the refresh token or "".
func (c *CredentialStore) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refresh
}

// HasValidToken reports whether an access token is present. Expiry is
// discovered by the server rejecting it.
func (c *CredentialStore) HasValidToken() bool {
	return c.Token() != ""
}

// SaveAgentInfo stores the agent identity.
func (c *CredentialStore) SaveAgentInfo(id, name, email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agent = domain.AgentInfo{ID: id, Name: name, Email: email}
	c.put(KeyAgentID, id)
	c.put(KeyAgentName, name)
	c.put(KeyAgentEmail, email)
}

// StoredAgentInfo returns the stored identity. ID is "" when none.
func (c *CredentialStore) StoredAgentInfo() domain.AgentInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agent
}

// Clear removes all five credential keys.
func (c *CredentialStore) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token, c.refresh = "", ""
	c.agent = domain.AgentInfo{}
	c.remove(allKeys...)
}

// ClearTokens removes only the access and refresh tokens, keeping the
// agent display fields.
func (c *CredentialStore) ClearTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token, c.refresh = "", ""
	c.remove(KeyAuthToken, KeyRefreshToken)
}

func (c *CredentialStore) put(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := c.storage.Set(ctx, key, value); err != nil {
		c.logger.Warn("Failed to persist credential", "key", key, "error", err)
	}
}

func (c *CredentialStore) remove(keys ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := c.storage.Delete(ctx, keys...); err != nil {
		c.logger.Warn("Failed to delete credentials", "keys", keys, "error", err)
	}
}
