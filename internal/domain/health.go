package domain

import "strings"

// HealthStatus is the overall or per-check result of GET /health.
// Backends disagree on casing, so compare with Is.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "Healthy"
	HealthDegraded  HealthStatus = "Degraded"
	HealthUnhealthy HealthStatus = "Unhealthy"
)

// Is compares case-insensitively.
func (s HealthStatus) Is(other HealthStatus) bool {
	return strings.EqualFold(string(s), string(other))
}

type HealthCheckEntry struct {
	Status      HealthStatus   `json:"status"`
	Description string         `json:"description,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Duration    string         `json:"duration,omitempty"`
}

type HealthCheckResponse struct {
	Status        HealthStatus                `json:"status"`
	TotalDuration string                      `json:"totalDuration,omitempty"`
	Results       map[string]HealthCheckEntry `json:"results,omitempty"`
}
