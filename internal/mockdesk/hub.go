package mockdesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/deskline/internal/domain"
	"github.com/ashureev/deskline/internal/hub"
	"github.com/ashureev/deskline/internal/identity"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	hubReadLimit = 1 << 20
	// KeepAliveInterval matches the client's default server timeout of 30s.
	KeepAliveInterval = 15 * time.Second
)

var errHandshake = errors.New("hub handshake failed")

// HubServer speaks the JSON hub protocol to agents.
type HubServer struct {
	backend        *Backend
	conns          *ConnManager
	originPatterns []string
	logger         *slog.Logger
}

// NewHubServer creates the hub endpoint and installs it as the backend's
// event publisher.
func NewHubServer(backend *Backend, originPatterns []string, logger *slog.Logger) *HubServer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	h := &HubServer{
		backend:        backend,
		conns:          NewConnManager(),
		originPatterns: originPatterns,
		logger:         logger,
	}
	backend.SetNotifier(h.Broadcast)
	return h
}

// Connections exposes the connection manager.
func (h *HubServer) Connections() *ConnManager {
	return h.conns
}

// Broadcast pushes an event to a room, or to every connection when room is
// empty. Delivery is best effort.
func (h *HubServer) Broadcast(room, event string, payload any) {
	msg, err := hub.NewInvocation("", event, payload)
	if err != nil {
		h.logger.Error("Failed to encode hub event", "event", event, "error", err)
		return
	}
	frame, err := hub.EncodeRecord(msg)
	if err != nil {
		h.logger.Error("Failed to encode hub event", "event", event, "error", err)
		return
	}
	for _, c := range h.conns.targets(room) {
		if err := c.write(frame); err != nil {
			h.logger.Debug("Hub event write failed", "event", event, "conn_id", c.id, "error", err)
		}
	}
}

// AgentOffline announces that an agent went offline.
func (h *HubServer) AgentOffline(agent domain.AgentInfo) {
	h.Broadcast("", domain.EventAgentDisconnected, domain.AgentPresence{
		AgentName: agent.Name,
		Timestamp: h.backend.clock.Now().UTC(),
	})
}

// ServeHTTP implements http.Handler for the hub upgrade. It expects the
// identity middleware in front of it.
func (h *HubServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := identity.AgentIDFromContext(r.Context())
	agent, ok := h.backend.Agent(agentID)
	if !ok {
		http.Error(w, `{"error":"unknown agent"}`, http.StatusUnauthorized)
		return
	}
	h.logger.Info("Hub connection request", "agent_id", agentID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "agent_id", agentID)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(hubReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pending, err := h.handshake(ctx, ws)
	if err != nil {
		h.logger.Warn("Hub handshake failed", "error", err, "agent_id", agentID)
		_ = ws.Close(websocket.StatusProtocolError, "handshake failed")
		return
	}

	c := &hubConn{id: uuid.NewString(), agent: agent, ws: ws, rooms: make(map[string]struct{})}
	if h.conns.Register(c) {
		h.backend.SetOnline(agentID, true)
		h.Broadcast("", domain.EventAgentConnected, domain.AgentPresence{
			AgentName: agent.Name,
			Timestamp: h.backend.clock.Now().UTC(),
		})
	}
	defer h.unregister(c)
	go h.keepAlive(ctx, c)

	for _, rec := range pending {
		if !h.handleRecord(c, rec) {
			_ = ws.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
	h.readLoop(ctx, c)
}

func (h *HubServer) unregister(c *hubConn) {
	if h.conns.Unregister(c) > 0 {
		return
	}
	if h.backend.SetOnline(c.agent.ID, false) {
		h.AgentOffline(c.agent)
	}
}

// handshake reads the protocol selection and acknowledges it. Records that
// arrived in the same frame are returned for processing.
func (h *HubServer) handshake(ctx context.Context, ws *websocket.Conn) ([][]byte, error) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	records := hub.SplitRecords(data)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty handshake", errHandshake)
	}

	var req hub.HandshakeRequest
	reply := hub.HandshakeResponse{}
	if err := json.Unmarshal(records[0], &req); err != nil {
		reply.Error = "Invalid handshake"
	} else if req.Protocol != hub.DefaultHandshake.Protocol || req.Version != hub.DefaultHandshake.Version {
		reply.Error = fmt.Sprintf("Requested protocol '%s' version %d is not available", req.Protocol, req.Version)
	}

	frame, err := hub.EncodeRecord(reply)
	if err != nil {
		return nil, err
	}
	if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return nil, fmt.Errorf("write handshake: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", errHandshake, reply.Error)
	}
	return records[1:], nil
}

// keepAlive sends Ping messages until ctx is done.
func (h *HubServer) keepAlive(ctx context.Context, c *hubConn) {
	frame, err := hub.EncodeRecord(hub.Message{Type: hub.TypePing})
	if err != nil {
		return
	}
	ticker := h.backend.clock.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.write(frame); err != nil {
				h.logger.Debug("Hub ping failed", "error", err, "agent_id", c.agent.ID)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *HubServer) readLoop(ctx context.Context, c *hubConn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("Hub connection closed by client", "agent_id", c.agent.ID)
			} else if ctx.Err() == nil {
				h.logger.Warn("Hub read error", "error", err, "agent_id", c.agent.ID)
			}
			return
		}
		for _, rec := range hub.SplitRecords(data) {
			if !h.handleRecord(c, rec) {
				_ = c.ws.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

// handleRecord processes one record and reports whether to keep reading.
func (h *HubServer) handleRecord(c *hubConn, rec []byte) bool {
	var msg hub.Message
	if err := json.Unmarshal(rec, &msg); err != nil {
		h.logger.Warn("Invalid hub record", "error", err, "agent_id", c.agent.ID)
		return true
	}

	switch msg.Type {
	case hub.TypeInvocation:
		h.invoke(c, msg)
	case hub.TypePing:
	case hub.TypeClose:
		return false
	default:
		h.logger.Debug("Ignoring hub message", "type", msg.Type, "agent_id", c.agent.ID)
	}
	return true
}

func (h *HubServer) invoke(c *hubConn, msg hub.Message) {
	err := h.dispatch(c, msg)
	if err != nil {
		h.logger.Warn("Hub invocation failed", "target", msg.Target, "error", err, "agent_id", c.agent.ID)
	}
	if msg.InvocationID == "" {
		return
	}

	completion := hub.Message{Type: hub.TypeCompletion, InvocationID: msg.InvocationID}
	if err != nil {
		completion.Error = err.Error()
	}
	frame, encErr := hub.EncodeRecord(completion)
	if encErr != nil {
		h.logger.Error("Failed to encode completion", "error", encErr)
		return
	}
	if err := c.write(frame); err != nil {
		h.logger.Debug("Completion write failed", "error", err, "agent_id", c.agent.ID)
	}
}

func (h *HubServer) dispatch(c *hubConn, msg hub.Message) error {
	switch msg.Target {
	case domain.MethodJoinRoom:
		room, err := stringArg(msg, 0)
		if err != nil {
			return err
		}
		h.conns.Join(c, room)
		h.Broadcast(room, domain.EventAgentJoined, h.roomChange(c, room))
		return nil

	case domain.MethodLeaveRoom:
		room, err := stringArg(msg, 0)
		if err != nil {
			return err
		}
		h.conns.Leave(c, room)
		h.Broadcast(room, domain.EventAgentLeft, h.roomChange(c, room))
		return nil

	case domain.MethodSendMessage:
		sessionID, err := stringArg(msg, 0)
		if err != nil {
			return err
		}
		text, err := stringArg(msg, 1)
		if err != nil {
			return err
		}
		_, err = h.backend.PostMessage(sessionID, c.agent.ID, domain.SendMessageRequest{Text: text})
		return err

	case domain.MethodPing:
		return nil

	default:
		return fmt.Errorf("unknown hub method '%s'", msg.Target)
	}
}

func (h *HubServer) roomChange(c *hubConn, room string) domain.AgentRoomChange {
	return domain.AgentRoomChange{
		SessionID: room,
		AgentID:   c.agent.ID,
		AgentName: c.agent.Name,
		Timestamp: h.backend.clock.Now().UTC(),
	}
}

func stringArg(msg hub.Message, i int) (string, error) {
	if i >= len(msg.Arguments) {
		return "", fmt.Errorf("%s: missing argument %d", msg.Target, i)
	}
	var s string
	if err := json.Unmarshal(msg.Arguments[i], &s); err != nil {
		return "", fmt.Errorf("%s: argument %d must be a string", msg.Target, i)
	}
	return s, nil
}
