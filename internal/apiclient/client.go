// Package apiclient is the REST client for the support-desk backend.
//
// Every request carries the agent's bearer token. A 401 triggers a single
// shared token refresh; the failed request is then replayed once. When the
// refresh cannot succeed the stored credentials are cleared and the
// session-expired hook fires.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/deskline/internal/domain"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds each HTTP round trip.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// TokenStore is the credential storage the client reads and updates.
// *store.CredentialStore implements it.
type TokenStore interface {
	Token() string
	RefreshToken() string
	SetToken(token, refreshToken string)
	SaveAgentInfo(id, name, email string)
	StoredAgentInfo() domain.AgentInfo
	Clear()
}

// Config configures a Client.
type Config struct {
	// BaseURL is the REST base, e.g. "https://desk.example.com/api".
	BaseURL string
	// HTTPClient is used for all requests. If nil, a client with no
	// timeout is created; Timeout still applies per request.
	HTTPClient *http.Client
	// Credentials supplies and receives tokens. Required.
	Credentials TokenStore
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Client talks to the support-desk REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      TokenStore
	logger     *slog.Logger
	timeout    time.Duration

	refreshGroup singleflight.Group

	hookMu    sync.Mutex
	onExpired func()
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("apiclient: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("apiclient: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("apiclient: Credentials is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		creds:      cfg.Credentials,
		logger:     logger,
		timeout:    timeout,
	}, nil
}

// OnSessionExpired registers the hook called when a token refresh fails.
// The hook runs on the refresh goroutine, once per failed refresh.
func (c *Client) OnSessionExpired(fn func()) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onExpired = fn
}

// AccessToken returns the current access token. The push channel uses it
// as its token accessor.
func (c *Client) AccessToken() string {
	return c.creds.Token()
}

// request describes one API call.
type request struct {
	method string
	path   string
	query  url.Values
	body   any

	// anonymous omits the Authorization header.
	anonymous bool
	// skipRefresh returns a 401 as an error instead of refreshing.
	skipRefresh bool
	// authCall maps 400 and 401 to *domain.AuthError.
	authCall bool
	// acceptStatus is a non-2xx status whose body is decoded like a success.
	acceptStatus int
}

type response struct {
	status int
	body   []byte
}

// do sends req, refreshing and replaying once on 401, and decodes the
// result into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	token := ""
	if !req.anonymous {
		token = c.creds.Token()
	}

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return err
	}

	if resp.status == http.StatusUnauthorized && !req.skipRefresh && !req.anonymous {
		fresh, err := c.refreshAfter(ctx, token)
		if err != nil {
			return err
		}
		c.logger.Debug("Replaying request after token refresh", "method", req.method, "path", req.path)
		resp, err = c.send(ctx, req, fresh)
		if err != nil {
			return err
		}
	}

	return c.decode(req, resp, out)
}

func (c *Client) send(ctx context.Context, req request, token string) (*response, error) {
	op := req.method + " " + req.path
	requestURL := c.baseURL + req.path
	if len(req.query) > 0 {
		requestURL += "?" + req.query.Encode()
	}

	var bodyReader io.Reader
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}
	return &response{status: httpResp.StatusCode, body: body}, nil
}

func (c *Client) decode(req request, resp *response, out any) error {
	ok := resp.status >= 200 && resp.status < 300
	if !ok && req.acceptStatus != 0 && resp.status == req.acceptStatus {
		ok = true
	}
	if !ok {
		msg := errorMessage(resp.body)
		if req.authCall && (resp.status == http.StatusBadRequest || resp.status == http.StatusUnauthorized) {
			return &domain.AuthError{StatusCode: resp.status, Message: msg}
		}
		return &domain.APIError{StatusCode: resp.status, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("parse %s %s response: %w", req.method, req.path, err)
	}
	return nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body []byte) string {
	var fields struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, s := range []string{fields.Message, fields.Error, fields.Detail, fields.Title} {
			if s != "" {
				return s
			}
		}
		return ""
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// refreshAfter returns a token to replay a request that was rejected while
// carrying stale. If another caller has already replaced stale, that token
// is reused; otherwise the caller joins the single in-flight refresh.
func (c *Client) refreshAfter(ctx context.Context, stale string) (string, error) {
	current := c.creds.Token()
	if current != "" && current != stale {
		return current, nil
	}
	if current == "" && stale != "" {
		// Credentials were cleared after this request went out.
		return "", fmt.Errorf("%w: credentials cleared", domain.ErrRefreshFailed)
	}

	// The refresh outlives any single caller: waiters share its result.
	refreshCtx := context.WithoutCancel(ctx)
	ch := c.refreshGroup.DoChan("refresh", func() (any, error) {
		return c.refresh(refreshCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	refreshToken := c.creds.RefreshToken()
	if refreshToken == "" {
		c.logger.Warn("No refresh token available, ending session")
		c.expire()
		return "", fmt.Errorf("%w: no refresh token", domain.ErrRefreshFailed)
	}

	var resp domain.AuthResponse
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/agent/refresh",
		body:        domain.RefreshRequest{RefreshToken: refreshToken},
		anonymous:   true,
		skipRefresh: true,
	}, &resp)
	if err == nil && resp.Token == "" {
		err = errors.New("response carried no token")
	}
	if err != nil {
		c.logger.Warn("Token refresh failed, ending session", "error", err)
		c.expire()
		return "", fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err)
	}

	c.creds.SetToken(resp.Token, resp.RefreshToken)
	if id := resp.AgentID(); id != "" {
		prev := c.creds.StoredAgentInfo()
		name, email := resp.Name, resp.Email
		if name == "" {
			name = prev.Name
		}
		if email == "" {
			email = prev.Email
		}
		c.creds.SaveAgentInfo(id, name, email)
	}
	c.logger.Info("Access token refreshed")
	return resp.Token, nil
}

func (c *Client) expire() {
	c.creds.Clear()

	c.hookMu.Lock()
	hook := c.onExpired
	c.hookMu.Unlock()
	if hook != nil {
		hook()
	}
}
