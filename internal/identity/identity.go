// Package identity authenticates bearer tokens on the mock backend.
package identity

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// AccessTokenParam carries the token on websocket upgrades, where browsers
// cannot set headers.
const AccessTokenParam = "access_token"

type contextKey int

const (
	agentIDKey contextKey = iota
)

// TokenResolver maps a live access token to its agent.
type TokenResolver interface {
	ResolveAccessToken(token string) (agentID string, ok bool)
}

// AgentIDFromContext extracts the authenticated agent ID from the request context.
func AgentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(agentIDKey).(string); ok {
		return v
	}
	return ""
}

// WithAgentID returns a context carrying the agent ID.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the access_token query parameter.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get(AccessTokenParam)
}

// Middleware rejects requests without a live access token and injects the
// agent ID into the request context.
func Middleware(resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			agentID, ok := resolver.ResolveAccessToken(token)
			if !ok {
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAgentID(r.Context(), agentID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="deskline"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
