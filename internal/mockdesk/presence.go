package mockdesk

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/deskline/internal/clock"
	"github.com/ashureev/deskline/internal/domain"
)

// OfflineCallback is called for every agent the presence worker marks
// offline.
type OfflineCallback func(agent domain.AgentInfo)

// PresenceInterval derives the sweep interval from the heartbeat TTL.
func PresenceInterval(ttl time.Duration) time.Duration {
	return max(ttl/4, time.Second)
}

// StartPresenceWorker runs a background goroutine that periodically marks
// agents with stale heartbeats offline. It stops when ctx is done.
func StartPresenceWorker(ctx context.Context, backend *Backend, clk clock.Clock, ttl time.Duration, onOffline OfflineCallback) {
	interval := PresenceInterval(ttl)
	ticker := clk.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Presence worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepPresence(backend, ttl, onOffline)
			case <-ctx.Done():
				slog.Info("Presence worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepPresence(backend *Backend, ttl time.Duration, onOffline OfflineCallback) {
	expired := backend.ExpirePresence(ttl)
	if len(expired) == 0 {
		return
	}

	slog.Info("Presence worker found stale agents", "count", len(expired))
	for _, agent := range expired {
		slog.Info("Presence worker marking agent offline", "agent_id", agent.ID)
		if onOffline != nil {
			onOffline(agent)
		}
	}
}
