package domain

import "time"

// Push channel event names, server to client.
const (
	EventTicketCreated       = "TicketCreated"
	EventTicketUpdated       = "TicketUpdated"
	EventTicketStatusChanged = "TicketStatusChanged"
	EventTicketAssigned      = "TicketAssigned"
	EventAgentConnected      = "AgentConnected"
	EventAgentDisconnected   = "AgentDisconnected"
	EventReceiveMessage      = "ReceiveMessage"
	EventAgentTyping         = "AgentTyping"
	EventAgentJoined         = "AgentJoined"
	EventAgentLeft           = "AgentLeft"
	EventUpdateQueue         = "UpdateQueue"
)

// Hub methods, client to server.
const (
	MethodSendMessage = "SendMessage"
	MethodJoinRoom    = "JoinRoom"
	MethodLeaveRoom   = "LeaveRoom"
	MethodPing        = "Ping"
)

// The ticket and presence payloads are PascalCase on the wire. encoding/json
// matches field names case-insensitively, so the tags below decode both.

type TicketStatusChanged struct {
	TicketID  string    `json:"ticketId"`
	OldStatus string    `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
	Timestamp time.Time `json:"timestamp"`
}

type TicketAssigned struct {
	TicketID  string    `json:"ticketId"`
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentPresence is the payload of AgentConnected and AgentDisconnected.
type AgentPresence struct {
	AgentName string    `json:"agentName"`
	Timestamp time.Time `json:"timestamp"`
}

// ReceiveMessage is a chat message pushed to the room.
type ReceiveMessage struct {
	MessageID   string       `json:"messageId"`
	SessionID   string       `json:"sessionId"`
	SenderID    string       `json:"senderId"`
	SenderName  string       `json:"senderName"`
	SenderType  SenderType   `json:"senderType"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   time.Time    `json:"timestamp"`
}

type AgentTyping struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	IsTyping  bool   `json:"isTyping"`
}

// AgentRoomChange is the payload of AgentJoined and AgentLeft.
type AgentRoomChange struct {
	SessionID string    `json:"sessionId"`
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	Timestamp time.Time `json:"timestamp"`
}

type QueueTicket struct {
	TicketID string `json:"ticketId"`
	Subject  string `json:"subject"`
	Priority string `json:"priority"`
	WaitTime string `json:"waitTime"`
}

type UpdateQueue struct {
	QueueLength    int           `json:"queueLength"`
	WaitingTickets []QueueTicket `json:"waitingTickets"`
	Timestamp      time.Time     `json:"timestamp"`
}
