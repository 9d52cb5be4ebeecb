// Package domain contains the core types shared by the deskline client
// and the mock support-desk backend.
package domain

import "time"

// AgentInfo is the identity of the logged-in agent as kept in the
// credential store.
type AgentInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Valid reports whether the identity carries an agent id.
func (a AgentInfo) Valid() bool {
	return a.ID != ""
}

// LoginRequest is the body of POST /agent/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /agent/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /agent/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is returned by register, login and refresh.
// Some backends send agentId instead of id; use AgentID to read either.
type AuthResponse struct {
	ID                    string     `json:"id,omitempty"`
	AgentIDAlt            string     `json:"agentId,omitempty"`
	Name                  string     `json:"name,omitempty"`
	Email                 string     `json:"email,omitempty"`
	CreatedAt             time.Time  `json:"createdAt,omitzero"`
	Token                 string     `json:"token"`
	ExpiresAt             *time.Time `json:"expiresAt,omitempty"`
	RefreshToken          string     `json:"refreshToken,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refreshTokenExpiresAt,omitempty"`
}

// AgentID returns id, falling back to agentId.
func (r *AuthResponse) AgentID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.AgentIDAlt
}

// Info extracts the agent identity from the response.
func (r *AuthResponse) Info() AgentInfo {
	return AgentInfo{ID: r.AgentID(), Name: r.Name, Email: r.Email}
}

// AgentSummary is one row of the agent directory.
type AgentSummary struct {
	AgentID  string    `json:"agentId"`
	Name     string    `json:"name"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// AgentsPage is a page of GET /agent.
type AgentsPage struct {
	Agents          []AgentSummary `json:"agents"`
	Page            int            `json:"page"`
	PageSize        int            `json:"pageSize"`
	TotalCount      int            `json:"totalCount"`
	TotalPages      int            `json:"totalPages"`
	HasNextPage     bool           `json:"hasNextPage"`
	HasPreviousPage bool           `json:"hasPreviousPage"`
}

// ListAgentsParams filters GET /agent. Zero values are omitted.
type ListAgentsParams struct {
	Search   string
	Page     int
	PageSize int
}

// AssignedTicket is a ticket summary inside AgentStatus.
type AssignedTicket struct {
	TicketID  string    `json:"ticketId"`
	UserID    string    `json:"userId"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// AgentStatus is returned by GET /agent/{id}/status.
type AgentStatus struct {
	AgentID         string           `json:"agentId"`
	Name            string           `json:"name"`
	Email           string           `json:"email"`
	IsOnline        bool             `json:"isOnline"`
	LastHeartbeat   time.Time        `json:"lastHeartbeat"`
	AssignedTickets []AssignedTicket `json:"assignedTickets"`
}

// HeartbeatResponse is returned by POST /agent/{id}/heartbeat.
type HeartbeatResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LogoutResponse is returned by POST /agent/{id}/logout.
type LogoutResponse struct {
	Message string `json:"message"`
}
