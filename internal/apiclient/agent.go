package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ashureev/deskline/internal/domain"
)

// Register creates an agent account. The caller persists the returned
// credentials. Validation failures are *domain.AuthError.
func (c *Client) Register(ctx context.Context, req domain.RegisterRequest) (*domain.AuthResponse, error) {
	var resp domain.AuthResponse
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/agent/register",
		body:      req,
		anonymous: true,
		authCall:  true,
	}, &resp)
	if err != nil {
		return nil, authFailure(err, "Registration failed")
	}
	return &resp, nil
}

// Login authenticates an agent. The caller persists the returned
// credentials. Bad credentials are *domain.AuthError.
func (c *Client) Login(ctx context.Context, req domain.LoginRequest) (*domain.AuthResponse, error) {
	var resp domain.AuthResponse
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/agent/login",
		body:      req,
		anonymous: true,
		authCall:  true,
	}, &resp)
	if err != nil {
		return nil, authFailure(err, "Login failed")
	}
	return &resp, nil
}

// authFailure fills in a generic message for auth errors without one.
func authFailure(err error, fallback string) error {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) && authErr.Message == "" {
		authErr.Message = fallback
	}
	return err
}

// Logout ends the agent's server-side session. An expired access token is
// refreshed once so the server still sees the logout.
func (c *Client) Logout(ctx context.Context, agentID string) error {
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/agent/" + url.PathEscape(agentID) + "/logout",
	}, nil)
	if err != nil {
		return fmt.Errorf("logout agent %s: %w", agentID, err)
	}
	return nil
}

// Heartbeat reports the agent as alive.
func (c *Client) Heartbeat(ctx context.Context, agentID string) (*domain.HeartbeatResponse, error) {
	var resp domain.HeartbeatResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/agent/" + url.PathEscape(agentID) + "/heartbeat",
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("send heartbeat: %w", err)
	}
	return &resp, nil
}

// ListAgents pages through the agent directory.
func (c *Client) ListAgents(ctx context.Context, params domain.ListAgentsParams) (*domain.AgentsPage, error) {
	query := url.Values{}
	if params.Search != "" {
		query.Set("search", params.Search)
	}
	if params.Page > 0 {
		query.Set("page", strconv.Itoa(params.Page))
	}
	if params.PageSize > 0 {
		query.Set("pageSize", strconv.Itoa(params.PageSize))
	}

	var page domain.AgentsPage
	if err := c.do(ctx, request{method: http.MethodGet, path: "/agent", query: query}, &page); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return &page, nil
}

// AgentStatus returns presence and assignments for one agent.
func (c *Client) AgentStatus(ctx context.Context, agentID string) (*domain.AgentStatus, error) {
	var status domain.AgentStatus
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/agent/" + url.PathEscape(agentID) + "/status",
	}, &status)
	if err != nil {
		return nil, fmt.Errorf("get agent status: %w", err)
	}
	return &status, nil
}

// Health returns the backend health report. A 503 carrying a report is
// returned as an Unhealthy result rather than an error.
func (c *Client) Health(ctx context.Context) (*domain.HealthCheckResponse, error) {
	var health domain.HealthCheckResponse
	err := c.do(ctx, request{
		method:       http.MethodGet,
		path:         "/health",
		acceptStatus: http.StatusServiceUnavailable,
	}, &health)
	if err != nil {
		return nil, fmt.Errorf("check health: %w", err)
	}
	return &health, nil
}
