package session

import "context"

// StartHeartbeat sends a heartbeat now and then every heartbeat interval.
// Starting an already running heartbeat does nothing.
func (o *Orchestrator) StartHeartbeat() {
	o.hbMu.Lock()
	defer o.hbMu.Unlock()
	if o.hbCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.hbCancel = cancel
	go o.heartbeatLoop(ctx)
}

// StopHeartbeat stops the heartbeat. It does not wait for an in-flight
// send, so it is safe to call from any goroutine, including the
// heartbeat's own. Stopping a stopped heartbeat does nothing.
func (o *Orchestrator) StopHeartbeat() {
	o.hbMu.Lock()
	defer o.hbMu.Unlock()
	if o.hbCancel == nil {
		return
	}
	o.hbCancel()
	o.hbCancel = nil
}

// HeartbeatRunning reports whether the heartbeat is started.
func (o *Orchestrator) HeartbeatRunning() bool {
	o.hbMu.Lock()
	defer o.hbMu.Unlock()
	return o.hbCancel != nil
}

func (o *Orchestrator) heartbeatLoop(ctx context.Context) {
	o.beat(ctx)

	ticker := o.clock.NewTicker(o.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.beat(ctx)
		}
	}
}

// beat sends one heartbeat for the current identity. Sends never overlap.
func (o *Orchestrator) beat(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	o.mu.Lock()
	id := o.state.AgentID
	o.mu.Unlock()

	if id == "" || !o.creds.HasValidToken() {
		o.logger.Warn("Skipping heartbeat, no valid agent identity")
		return
	}

	o.sendMu.Lock()
	defer o.sendMu.Unlock()
	if _, err := o.api.Heartbeat(ctx, id); err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("Heartbeat failed", "agent_id", id, "error", err)
		}
		return
	}
	o.logger.Debug("Heartbeat sent", "agent_id", id)
}
