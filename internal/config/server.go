package config

import (
	"fmt"
	"strings"
	"time"
)

// ServerConfig configures the mock support-desk backend.
type ServerConfig struct {
	Port           string
	FrontendURL    string
	HubPath        string
	AccessTokenTTL time.Duration
	PresenceTTL    time.Duration
}

// LoadServer reads mock backend configuration from environment variables.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:           getEnv("PORT", "8090"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		HubPath:        getEnv("MOCK_HUB_PATH", DefaultHubPath),
		AccessTokenTTL: getEnvDuration("MOCK_ACCESS_TOKEN_TTL", 15*time.Minute),
		PresenceTTL:    getEnvDuration("MOCK_PRESENCE_TTL", 2*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if !strings.HasPrefix(c.HubPath, "/") {
		return fmt.Errorf("MOCK_HUB_PATH must start with /")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("MOCK_ACCESS_TOKEN_TTL must be > 0")
	}
	if c.PresenceTTL <= 0 {
		return fmt.Errorf("MOCK_PRESENCE_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *ServerConfig) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
