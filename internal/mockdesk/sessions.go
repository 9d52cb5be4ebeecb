package mockdesk

import (
	"fmt"
	"strings"

	"github.com/ashureev/deskline/internal/domain"
	"github.com/google/uuid"
)

const (
	sessionActive = "active"
	sessionClosed = "closed"
)

// CreateSession opens a chat session between a user and the calling agent.
func (b *Backend) CreateSession(agentID string, req domain.CreateSessionRequest) (*domain.Session, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now().UTC()
	s := &domain.Session{
		SessionID:      uuid.NewString(),
		UserID:         userID,
		AgentID:        agentID,
		Status:         sessionActive,
		CreatedAt:      now,
		LastActivityAt: &now,
	}
	b.sessions[s.SessionID] = s
	cp := *s
	return &cp, nil
}

// Session returns a copy of a session.
func (b *Backend) Session(sessionID string) (*domain.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// PostMessage appends a message from an agent and pushes ReceiveMessage to
// the session's room.
func (b *Backend) PostMessage(sessionID, agentID string, req domain.SendMessageRequest) (*domain.Message, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return nil, fmt.Errorf("%w: text or attachments are required", ErrInvalidInput)
	}

	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return nil, ErrNotFound
	}
	var senderName string
	if rec := b.agents[agentID]; rec != nil {
		senderName = rec.info.Name
	}
	now := b.clock.Now().UTC()
	msg := domain.Message{
		MessageID:   uuid.NewString(),
		SessionID:   sessionID,
		SenderID:    agentID,
		SenderName:  senderName,
		SenderType:  domain.SenderAgent,
		Text:        req.Text,
		Attachments: req.Attachments,
		CreatedAt:   now,
	}
	b.messages[sessionID] = append(b.messages[sessionID], msg)
	s.LastActivityAt = &now
	b.mu.Unlock()

	b.publish(sessionID, domain.EventReceiveMessage, domain.ReceiveMessage{
		MessageID:   msg.MessageID,
		SessionID:   msg.SessionID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		SenderType:  msg.SenderType,
		Text:        msg.Text,
		Attachments: msg.Attachments,
		Timestamp:   msg.CreatedAt,
	})
	return &msg, nil
}

// Messages returns up to q.Limit messages posted after the message with id
// q.After, oldest first. An unknown After id starts from the beginning.
func (b *Backend) Messages(sessionID string, q domain.MessagesQuery) (*domain.MessagesPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxPageSize)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	all := b.messages[sessionID]
	start := 0
	if q.After != "" {
		for i, m := range all {
			if m.MessageID == q.After {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(all))
	out := make([]domain.Message, end-start)
	copy(out, all[start:end])
	return &domain.MessagesPage{Messages: out, HasMore: end < len(all)}, nil
}
