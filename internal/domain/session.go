package domain

import "time"

// Session is a live-support chat session between a user and an agent.
type Session struct {
	SessionID      string     `json:"sessionId"`
	UserID         string     `json:"userId"`
	AgentID        string     `json:"agentId,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
}

type CreateSessionRequest struct {
	UserID   string         `json:"userId"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type SendMessageRequest struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SenderType distinguishes agent messages from end-user messages.
type SenderType string

const (
	SenderAgent SenderType = "agent"
	SenderUser  SenderType = "user"
)

// Message is a chat message in a session.
type Message struct {
	MessageID   string       `json:"messageId"`
	SessionID   string       `json:"sessionId"`
	SenderID    string       `json:"senderId"`
	SenderName  string       `json:"senderName,omitempty"`
	SenderType  SenderType   `json:"senderType,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// MessagesPage is returned by GET /sessions/{id}/messages.
type MessagesPage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// MessagesQuery pages through a session's messages. Zero values are omitted.
type MessagesQuery struct {
	After string
	Limit int
}
