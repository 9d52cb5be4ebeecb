package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DESK_API_URL", "https://desk.example.com/api/")
	t.Setenv("DESK_HUB_URL", "https://desk.example.com")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIURL != "https://desk.example.com/api" {
		t.Errorf("Expected trailing slash trimmed, got %q", cfg.APIURL)
	}
	if cfg.HubEndpoint() != "https://desk.example.com/hubs/live-support" {
		t.Errorf("Unexpected hub endpoint %q", cfg.HubEndpoint())
	}
	if cfg.HeartbeatInterval != 45*time.Second {
		t.Errorf("Expected 45s heartbeat, got %v", cfg.HeartbeatInterval)
	}
	if cfg.ChannelReadyTimeout != 5*time.Second {
		t.Errorf("Expected 5s channel timeout, got %v", cfg.ChannelReadyTimeout)
	}
	want := []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}
	if len(cfg.ReconnectDelays) != len(want) {
		t.Fatalf("Expected %d delays, got %v", len(want), cfg.ReconnectDelays)
	}
	for i := range want {
		if cfg.ReconnectDelays[i] != want[i] {
			t.Errorf("Delay %d: expected %v, got %v", i, want[i], cfg.ReconnectDelays[i])
		}
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", cfg.MaxReconnectAttempts)
	}
	if cfg.PreserveProfileOnFailedLogout {
		t.Error("Expected profile retention off by default")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info level, got %v", cfg.LogLevel)
	}
}

func TestLoad_MissingEndpointsAreFatal(t *testing.T) {
	t.Setenv("DESK_API_URL", "")
	t.Setenv("DESK_HUB_URL", "https://desk.example.com")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DESK_API_URL") {
		t.Errorf("Expected DESK_API_URL error, got %v", err)
	}

	t.Setenv("DESK_API_URL", "https://desk.example.com")
	t.Setenv("DESK_HUB_URL", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DESK_HUB_URL") {
		t.Errorf("Expected DESK_HUB_URL error, got %v", err)
	}
}

func TestLoad_HeartbeatWindow(t *testing.T) {
	setRequired(t)

	for _, v := range []string{"10s", "2m"} {
		t.Setenv("DESK_HEARTBEAT_INTERVAL", v)
		if _, err := Load(); err == nil {
			t.Errorf("Expected heartbeat %s to be rejected", v)
		}
	}
	t.Setenv("DESK_HEARTBEAT_INTERVAL", "30s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("Expected 30s, got %v", cfg.HeartbeatInterval)
	}
}

func TestLoad_ReconnectDelays(t *testing.T) {
	setRequired(t)

	t.Setenv("DESK_RECONNECT_DELAYS", "5s,1s")
	if _, err := Load(); err == nil {
		t.Error("Expected decreasing delays to be rejected")
	}

	t.Setenv("DESK_RECONNECT_DELAYS", "1s,oops")
	if _, err := Load(); err == nil {
		t.Error("Expected unparsable delay to be rejected")
	}

	t.Setenv("DESK_RECONNECT_DELAYS", "1s")
	t.Setenv("DESK_AUTO_RECONNECT_DELAYS", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.AutoReconnectDelays) != 0 {
		t.Errorf("Expected automatic reconnect disabled, got %v", cfg.AutoReconnectDelays)
	}
}

func TestLoad_PreserveProfileAndLevel(t *testing.T) {
	setRequired(t)
	t.Setenv("DESK_PRESERVE_PROFILE_ON_FAILED_LOGOUT", "yes")
	t.Setenv("DESK_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.PreserveProfileOnFailedLogout {
		t.Error("Expected profile retention on")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", cfg.LogLevel)
	}
}

func TestLoadServer_Defaults(t *testing.T) {
	t.Setenv("PORT", "8090")
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("MOCK_HUB_PATH", DefaultHubPath)

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error: %v", err)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("Expected 15m token TTL, got %v", cfg.AccessTokenTTL)
	}
	if cfg.HubPath != DefaultHubPath {
		t.Errorf("Expected default hub path, got %q", cfg.HubPath)
	}
	if !cfg.IsDevelopment() {
		t.Error("Expected development mode without FRONTEND_URL")
	}
}
