package hub

import (
	"context"
	"errors"
	"time"
)

// scheduleReconnect arms the next manual attempt, or gives up once the
// attempt cap is reached. The channel then stays Disconnected until
// Connect is called.
func (c *Client) scheduleReconnect(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		c.logger.Error("Hub reconnect attempts exhausted", "max_attempts", c.cfg.MaxReconnectAttempts)
		return
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	delay := c.manualDelay(attempt)
	c.logger.Info("Scheduling hub reconnect",
		"attempt", attempt,
		"max_attempts", c.cfg.MaxReconnectAttempts,
		"delay", delay)

	c.arm(epoch, delay, func() {
		if err := c.dial(context.Background(), epoch, StateConnecting); err != nil {
			if errors.Is(err, errSuperseded) {
				return
			}
			c.logger.Warn("Hub reconnect attempt failed", "attempt", attempt, "error", err)
			c.scheduleReconnect(epoch)
		}
	})
}

// scheduleAutoReconnect runs the automatic retry list after an unexpected
// close. When the list is exhausted the manual loop takes over.
func (c *Client) scheduleAutoReconnect(epoch uint64, index int) {
	if index >= len(c.cfg.AutoReconnectDelays) {
		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			return
		}
		notify := c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		notify()

		c.logger.Warn("Hub automatic reconnect exhausted, starting manual reconnect")
		c.scheduleReconnect(epoch)
		return
	}

	delay := c.cfg.AutoReconnectDelays[index]
	c.logger.Info("Hub reconnecting", "retry", index+1, "delay", delay)
	c.arm(epoch, delay, func() {
		if err := c.dial(context.Background(), epoch, StateReconnecting); err != nil {
			if errors.Is(err, errSuperseded) {
				return
			}
			c.logger.Debug("Hub automatic reconnect failed", "retry", index+1, "error", err)
			c.scheduleAutoReconnect(epoch, index+1)
		}
	})
}

// manualDelay returns the delay for the given 1-based attempt. Delays are
// non-decreasing and the last one repeats.
func (c *Client) manualDelay(attempt int) time.Duration {
	delays := c.cfg.ReconnectDelays
	i := attempt - 1
	if i >= len(delays) {
		i = len(delays) - 1
	}
	return delays[i]
}

// arm schedules fn on the clock unless epoch has moved on. fn is skipped
// if the epoch changes or the channel connects before it fires.
func (c *Client) arm(epoch uint64, delay time.Duration, fn func()) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.timerSeq++
	seq := c.timerSeq
	c.mu.Unlock()

	timer := c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := c.epoch != epoch || c.state == StateConnected
		c.mu.Unlock()
		if stale {
			return
		}
		fn()
	})

	// A zero delay may already have run fn, which can arm a newer timer.
	c.mu.Lock()
	if c.epoch == epoch && c.timerSeq == seq {
		c.pending = timer
	}
	c.mu.Unlock()
}
