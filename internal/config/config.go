// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultHubPath is the push hub path on the hub base URL.
const DefaultHubPath = "/hubs/live-support"

// Heartbeat and channel-readiness bounds accepted by Validate.
const (
	MinHeartbeatInterval   = 30 * time.Second
	MaxHeartbeatInterval   = 60 * time.Second
	MinChannelReadyTimeout = 3 * time.Second
	MaxChannelReadyTimeout = 10 * time.Second
)

const defaultReconnectDelays = "0s,2s,10s,30s"

// Config holds the agent client configuration.
type Config struct {
	APIURL                        string
	HubURL                        string
	HubPath                       string
	CredentialsDB                 string
	RequestTimeout                time.Duration
	HeartbeatInterval             time.Duration
	ChannelReadyTimeout           time.Duration
	ReconnectDelays               []time.Duration
	AutoReconnectDelays           []time.Duration
	MaxReconnectAttempts          int
	PreserveProfileOnFailedLogout bool
	LogLevel                      slog.Level
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	reconnect, err := getEnvDurations("DESK_RECONNECT_DELAYS", defaultReconnectDelays)
	if err != nil {
		return nil, err
	}
	autoReconnect, err := getEnvDurations("DESK_AUTO_RECONNECT_DELAYS", defaultReconnectDelays)
	if err != nil {
		return nil, err
	}
	level, err := parseLevel(getEnv("DESK_LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIURL:                        strings.TrimRight(getEnv("DESK_API_URL", ""), "/"),
		HubURL:                        strings.TrimRight(getEnv("DESK_HUB_URL", ""), "/"),
		HubPath:                       getEnv("DESK_HUB_PATH", DefaultHubPath),
		CredentialsDB:                 getEnv("DESK_CREDENTIALS_DB", "./data/credentials.db"),
		RequestTimeout:                getEnvDuration("DESK_REQUEST_TIMEOUT", 30*time.Second),
		HeartbeatInterval:             getEnvDuration("DESK_HEARTBEAT_INTERVAL", 45*time.Second),
		ChannelReadyTimeout:           getEnvDuration("DESK_CHANNEL_READY_TIMEOUT", 5*time.Second),
		ReconnectDelays:               reconnect,
		AutoReconnectDelays:           autoReconnect,
		MaxReconnectAttempts:          getEnvInt("DESK_MAX_RECONNECT_ATTEMPTS", 5),
		PreserveProfileOnFailedLogout: getEnvBool("DESK_PRESERVE_PROFILE_ON_FAILED_LOGOUT", false),
		LogLevel:                      level,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("DESK_API_URL cannot be empty")
	}
	if c.HubURL == "" {
		return fmt.Errorf("DESK_HUB_URL cannot be empty")
	}
	if !strings.HasPrefix(c.HubPath, "/") {
		return fmt.Errorf("DESK_HUB_PATH must start with /")
	}
	if c.CredentialsDB == "" {
		return fmt.Errorf("DESK_CREDENTIALS_DB cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("DESK_REQUEST_TIMEOUT must be > 0")
	}
	if c.HeartbeatInterval < MinHeartbeatInterval || c.HeartbeatInterval > MaxHeartbeatInterval {
		return fmt.Errorf("DESK_HEARTBEAT_INTERVAL must be between %s and %s", MinHeartbeatInterval, MaxHeartbeatInterval)
	}
	if c.ChannelReadyTimeout < MinChannelReadyTimeout || c.ChannelReadyTimeout > MaxChannelReadyTimeout {
		return fmt.Errorf("DESK_CHANNEL_READY_TIMEOUT must be between %s and %s", MinChannelReadyTimeout, MaxChannelReadyTimeout)
	}
	if len(c.ReconnectDelays) == 0 {
		return fmt.Errorf("DESK_RECONNECT_DELAYS cannot be empty")
	}
	if err := nonDecreasing(c.ReconnectDelays); err != nil {
		return fmt.Errorf("DESK_RECONNECT_DELAYS %w", err)
	}
	if err := nonDecreasing(c.AutoReconnectDelays); err != nil {
		return fmt.Errorf("DESK_AUTO_RECONNECT_DELAYS %w", err)
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("DESK_MAX_RECONNECT_ATTEMPTS must be > 0")
	}
	return nil
}

// HubEndpoint returns the full push hub URL.
func (c *Config) HubEndpoint() string {
	return c.HubURL + c.HubPath
}

func nonDecreasing(delays []time.Duration) error {
	for i, d := range delays {
		if d < 0 {
			return fmt.Errorf("must not contain negative delays")
		}
		if i > 0 && d < delays[i-1] {
			return fmt.Errorf("must be non-decreasing")
		}
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("DESK_LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvDurations parses a comma-separated list. An explicitly empty value
// yields an empty list.
func getEnvDurations(key, fallback string) ([]time.Duration, error) {
	raw := getEnv(key, fallback)
	if strings.TrimSpace(raw) == "" {
		return []time.Duration{}, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%s: parse %q: %w", key, p, err)
		}
		out = append(out, d)
	}
	return out, nil
}
