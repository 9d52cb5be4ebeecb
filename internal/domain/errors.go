package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotInitialized is returned by operations that need a
	// logged-in or restored agent.
	ErrSessionNotInitialized = errors.New("session not initialized")

	// ErrChannelNotConnected is returned by push channel calls made while
	// the channel is not connected.
	ErrChannelNotConnected = errors.New("push channel not connected")

	// ErrRefreshFailed means the refresh token was absent or rejected.
	// Credentials have already been cleared when it is returned.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// AuthError reports rejected credentials or invalid registration data.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication failed (HTTP %d)", e.StatusCode)
	}
	return e.Message
}

// NetworkError wraps transport failures and timeouts.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is any other non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with HTTP %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status suggests a transient failure.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
