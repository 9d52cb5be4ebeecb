package hub

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ashureev/deskline/internal/domain"
	"github.com/coder/websocket"
)

// JoinRoom subscribes the connection to a room's events.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.invoke(ctx, domain.MethodJoinRoom, roomID)
}

// LeaveRoom unsubscribes the connection from a room.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.invoke(ctx, domain.MethodLeaveRoom, roomID)
}

// SendMessage posts a chat message to a session in real time.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) error {
	return c.invoke(ctx, domain.MethodSendMessage, sessionID, text)
}

// Ping calls the hub's Ping method and waits for its completion.
func (c *Client) Ping(ctx context.Context) error {
	return c.invoke(ctx, domain.MethodPing)
}

// invoke sends an invocation and waits for its completion. It fails with
// domain.ErrChannelNotConnected unless the channel is Connected.
func (c *Client) invoke(ctx context.Context, target string, args ...any) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("invoke %s: %w", target, domain.ErrChannelNotConnected)
	}
	conn := c.conn
	c.nextInvoke++
	id := strconv.FormatUint(c.nextInvoke, 10)
	done := make(chan error, 1)
	c.invocations[id] = done
	c.mu.Unlock()

	msg, err := NewInvocation(id, target, args...)
	if err == nil {
		var frame []byte
		frame, err = EncodeRecord(msg)
		if err == nil {
			err = conn.Write(ctx, websocket.MessageText, frame)
		}
	}
	if err != nil {
		c.dropInvocation(id)
		return fmt.Errorf("invoke %s: %w", target, err)
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("invoke %s: %w", target, err)
		}
		return nil
	case <-ctx.Done():
		c.dropInvocation(id)
		return fmt.Errorf("invoke %s: %w", target, ctx.Err())
	}
}

func (c *Client) complete(msg Message) {
	c.mu.Lock()
	done, ok := c.invocations[msg.InvocationID]
	delete(c.invocations, msg.InvocationID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("Completion for unknown invocation", "invocation_id", msg.InvocationID)
		return
	}
	if msg.Error != "" {
		done <- fmt.Errorf("hub error: %s", msg.Error)
		return
	}
	done <- nil
}

func (c *Client) dropInvocation(id string) {
	c.mu.Lock()
	delete(c.invocations, id)
	c.mu.Unlock()
}

func (c *Client) failInvocationsLocked() {
	for id, done := range c.invocations {
		done <- fmt.Errorf("connection closed: %w", domain.ErrChannelNotConnected)
		delete(c.invocations, id)
	}
}
