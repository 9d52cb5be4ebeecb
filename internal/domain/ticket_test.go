package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPriority_UnmarshalNumberAndLabel(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
	}{
		{`0`, PriorityLow},
		{`3`, PriorityCritical},
		{`9`, PriorityMedium},
		{`"High"`, PriorityHigh},
		{`"urgent"`, PriorityMedium},
	}
	for _, tt := range tests {
		var p Priority
		if err := json.Unmarshal([]byte(tt.in), &p); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", tt.in, err)
		}
		if p != tt.want {
			t.Errorf("Unmarshal(%s): expected %v, got %v", tt.in, tt.want, p)
		}
	}
}

func TestTicketStatus_Defaults(t *testing.T) {
	if got := StatusFromNumber(0); got != StatusOpen {
		t.Errorf("Expected unknown number to map to Open, got %v", got)
	}
	if got := ParseStatus("InProgress"); got != StatusInProgress {
		t.Errorf("Expected InProgress, got %v", got)
	}
	if got := StatusResolved.String(); got != "Resolved" {
		t.Errorf("Expected label Resolved, got %q", got)
	}
}

func TestTicket_DecodeWirePayload(t *testing.T) {
	raw := `{"id":"t1","title":"Printer","priority":2,"status":"InProgress","assignedAgentId":"a1","createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"}`
	var tk Ticket
	if err := json.Unmarshal([]byte(raw), &tk); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if tk.Priority != PriorityHigh || tk.Status != StatusInProgress {
		t.Errorf("Expected High/InProgress, got %v/%v", tk.Priority, tk.Status)
	}
	if !tk.Assigned() {
		t.Error("Expected ticket to be assigned")
	}
}

func TestTicketStatusChanged_PascalCase(t *testing.T) {
	raw := `{"TicketId":"t9","OldStatus":"Open","NewStatus":"Resolved","Timestamp":"2026-01-01T00:00:00Z"}`
	var p TicketStatusChanged
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if p.TicketID != "t9" || p.NewStatus != "Resolved" {
		t.Errorf("Expected t9/Resolved, got %s/%s", p.TicketID, p.NewStatus)
	}
}

func TestAuthResponse_AgentIDFallback(t *testing.T) {
	var r AuthResponse
	if err := json.Unmarshal([]byte(`{"agentId":"u7","token":"t"}`), &r); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if got := r.Info().ID; got != "u7" {
		t.Errorf("Expected id u7, got %q", got)
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&NetworkError{Op: "login", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("Expected NetworkError to unwrap to its cause")
	}
}
