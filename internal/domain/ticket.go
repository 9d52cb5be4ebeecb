package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Priority is a ticket priority. The backend sends numbers; labels are
// accepted too.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityLabels = map[Priority]string{
	PriorityLow:      "Low",
	PriorityMedium:   "Medium",
	PriorityHigh:     "High",
	PriorityCritical: "Critical",
}

// PriorityFromNumber maps a wire number to a Priority, defaulting to Medium.
func PriorityFromNumber(n int) Priority {
	if _, ok := priorityLabels[Priority(n)]; ok {
		return Priority(n)
	}
	return PriorityMedium
}

// ParsePriority maps a label to a Priority, defaulting to Medium.
func ParsePriority(label string) Priority {
	for p, l := range priorityLabels {
		if l == label {
			return p
		}
	}
	return PriorityMedium
}

func (p Priority) String() string {
	if l, ok := priorityLabels[p]; ok {
		return l
	}
	return "Priority(" + strconv.Itoa(int(p)) + ")"
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(p))
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	n, label, err := numberOrLabel(data)
	if err != nil {
		return fmt.Errorf("decode priority: %w", err)
	}
	if label != "" {
		*p = ParsePriority(label)
	} else {
		*p = PriorityFromNumber(n)
	}
	return nil
}

// TicketStatus is a ticket's workflow state. Numbering starts at 1.
type TicketStatus int

const (
	StatusOpen TicketStatus = iota + 1
	StatusInProgress
	StatusResolved
)

var statusLabels = map[TicketStatus]string{
	StatusOpen:       "Open",
	StatusInProgress: "InProgress",
	StatusResolved:   "Resolved",
}

// StatusFromNumber maps a wire number to a TicketStatus, defaulting to Open.
func StatusFromNumber(n int) TicketStatus {
	if _, ok := statusLabels[TicketStatus(n)]; ok {
		return TicketStatus(n)
	}
	return StatusOpen
}

// ParseStatus maps a label to a TicketStatus, defaulting to Open.
func ParseStatus(label string) TicketStatus {
	for s, l := range statusLabels {
		if l == label {
			return s
		}
	}
	return StatusOpen
}

func (s TicketStatus) String() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "TicketStatus(" + strconv.Itoa(int(s)) + ")"
}

func (s TicketStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(s))
}

func (s *TicketStatus) UnmarshalJSON(data []byte) error {
	n, label, err := numberOrLabel(data)
	if err != nil {
		return fmt.Errorf("decode ticket status: %w", err)
	}
	if label != "" {
		*s = ParseStatus(label)
	} else {
		*s = StatusFromNumber(n)
	}
	return nil
}

func numberOrLabel(data []byte) (int, string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var label string
		if err := json.Unmarshal(data, &label); err != nil {
			return 0, "", err
		}
		return 0, label, nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, "", err
	}
	return n, "", nil
}

// TicketHistoryEntry records one change to a ticket.
type TicketHistoryEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Agent     string    `json:"agent"`
}

// Ticket is a support case as carried by TicketCreated and TicketUpdated.
type Ticket struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Description     string               `json:"description"`
	Priority        Priority             `json:"priority"`
	Status          TicketStatus         `json:"status"`
	AssignedAgentID string               `json:"assignedAgentId,omitempty"`
	AssignedAgent   string               `json:"assignedAgent,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
	SLATimeLeft     string               `json:"slaTimeLeft,omitempty"`
	History         []TicketHistoryEntry `json:"history,omitempty"`
}

// Assigned reports whether the ticket has an assignee.
func (t *Ticket) Assigned() bool {
	return t.AssignedAgentID != ""
}
