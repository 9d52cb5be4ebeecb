package session

import (
	"errors"
	"fmt"

	"github.com/ashureev/deskline/internal/domain"
)

const msgSessionExpired = "session expired, please log in again"

// DisplayMessage reduces an error to the single string shown to the agent.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}

	var authErr *domain.AuthError
	var netErr *domain.NetworkError
	var apiErr *domain.APIError
	switch {
	case errors.As(err, &authErr):
		return authErr.Error()
	case errors.Is(err, domain.ErrRefreshFailed):
		return msgSessionExpired
	case errors.Is(err, domain.ErrSessionNotInitialized):
		return "not logged in"
	case errors.Is(err, domain.ErrChannelNotConnected):
		return "live updates are not connected"
	case errors.As(err, &netErr):
		return "unable to reach the server, check your connection"
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return fmt.Sprintf("request failed (HTTP %d)", apiErr.StatusCode)
	default:
		return err.Error()
	}
}
