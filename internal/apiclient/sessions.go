package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ashureev/deskline/internal/domain"
)

// CreateSession opens a chat session for a user.
func (c *Client) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	var s domain.Session
	if err := c.do(ctx, request{method: http.MethodPost, path: "/sessions", body: req}, &s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &s, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var s domain.Session
	err := c.do(ctx, request{method: http.MethodGet, path: "/sessions/" + url.PathEscape(sessionID)}, &s)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &s, nil
}

// SendMessage posts a message to a session over REST. The push channel's
// SendMessage is the real-time alternative.
func (c *Client) SendMessage(ctx context.Context, sessionID string, req domain.SendMessageRequest) (*domain.Message, error) {
	var m domain.Message
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/sessions/" + url.PathEscape(sessionID) + "/messages",
		body:   req,
	}, &m)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &m, nil
}

// Messages returns messages after q.After, oldest first.
func (c *Client) Messages(ctx context.Context, sessionID string, q domain.MessagesQuery) (*domain.MessagesPage, error) {
	query := url.Values{}
	if q.After != "" {
		query.Set("after", q.After)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	var page domain.MessagesPage
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/sessions/" + url.PathEscape(sessionID) + "/messages",
		query:  query,
	}, &page)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &page, nil
}
