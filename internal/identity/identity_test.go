package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticResolver map[string]string

func (s staticResolver) ResolveAccessToken(token string) (string, bool) {
	id, ok := s[token]
	return id, ok
}

func TestMiddleware(t *testing.T) {
	resolver := staticResolver{"good": "agent-1"}
	var seen string
	h := Middleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AgentIDFromContext(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		target     string
		wantStatus int
		wantAgent  string
	}{
		{"bearer header", "Bearer good", "/x", http.StatusOK, "agent-1"},
		{"lowercase scheme", "bearer good", "/x", http.StatusOK, "agent-1"},
		{"query param", "", "/hub?access_token=good", http.StatusOK, "agent-1"},
		{"unknown token", "Bearer bad", "/x", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic good", "/x?access_token=good", http.StatusUnauthorized, ""},
		{"missing", "", "/x", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if seen != tt.wantAgent {
				t.Errorf("Expected agent %q, got %q", tt.wantAgent, seen)
			}
		})
	}
}

func TestUnauthorizedBodyIsJSON(t *testing.T) {
	for _, message := range []string{"Missing token", `token "x" rejected \ retry`} {
		w := httptest.NewRecorder()
		unauthorized(w, message)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %q", ct)
		}
		if w.Header().Get("WWW-Authenticate") == "" {
			t.Error("Expected WWW-Authenticate header")
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("Expected valid JSON body for %q, got %v", message, err)
		}
		if body["error"] != message {
			t.Errorf("Expected error %q, got %q", message, body["error"])
		}
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if got := IPFromRequest(req); got != "10.1.2.3" {
		t.Errorf("Expected 10.1.2.3, got %s", got)
	}
}
