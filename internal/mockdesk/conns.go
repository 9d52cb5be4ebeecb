package mockdesk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/deskline/internal/domain"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// hubConn is one accepted hub connection. rooms is guarded by the owning
// ConnManager's mutex.
type hubConn struct {
	id    string
	agent domain.AgentInfo
	ws    *websocket.Conn
	rooms map[string]struct{}
}

func (c *hubConn) write(frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, frame)
}

// ConnManager tracks live hub connections per agent and per room.
type ConnManager struct {
	mu      sync.RWMutex
	byAgent map[string]map[string]*hubConn
	rooms   map[string]map[string]*hubConn
}

// NewConnManager creates an empty manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		byAgent: make(map[string]map[string]*hubConn),
		rooms:   make(map[string]map[string]*hubConn),
	}
}

// Register adds a connection and reports whether it is the agent's first.
func (m *ConnManager) Register(c *hubConn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, exists := m.byAgent[c.agent.ID]
	if !exists {
		conns = make(map[string]*hubConn)
		m.byAgent[c.agent.ID] = conns
	}
	conns[c.id] = c
	slog.Info("Hub connection registered", "agent_id", c.agent.ID, "conn_id", c.id)
	return !exists
}

// Unregister removes a connection from the manager and all its rooms. It
// returns how many connections the agent still has.
func (m *ConnManager) Unregister(c *hubConn) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	for room := range c.rooms {
		m.leaveLocked(c, room)
	}
	conns, ok := m.byAgent[c.agent.ID]
	if !ok {
		return 0
	}
	if _, exists := conns[c.id]; exists {
		delete(conns, c.id)
		slog.Info("Hub connection unregistered", "agent_id", c.agent.ID, "conn_id", c.id)
	}
	if len(conns) == 0 {
		delete(m.byAgent, c.agent.ID)
	}
	return len(conns)
}

// Join adds the connection to a room.
func (m *ConnManager) Join(c *hubConn, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[room]
	if !ok {
		members = make(map[string]*hubConn)
		m.rooms[room] = members
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
}

// Leave removes the connection from a room.
func (m *ConnManager) Leave(c *hubConn, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(c, room)
}

func (m *ConnManager) leaveLocked(c *hubConn, room string) {
	delete(c.rooms, room)
	if members, ok := m.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
}

// targets snapshots the members of a room, or every connection for "".
func (m *ConnManager) targets(room string) []*hubConn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*hubConn
	if room == "" {
		for _, conns := range m.byAgent {
			for _, c := range conns {
				out = append(out, c)
			}
		}
		return out
	}
	for _, c := range m.rooms[room] {
		out = append(out, c)
	}
	return out
}

// Connections returns the number of live connections.
func (m *ConnManager) Connections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conns := range m.byAgent {
		n += len(conns)
	}
	return n
}

// CloseAgent closes every connection of an agent with a normal closure.
func (m *ConnManager) CloseAgent(agentID, reason string) {
	m.mu.RLock()
	conns := make([]*hubConn, 0, len(m.byAgent[agentID]))
	for _, c := range m.byAgent[agentID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusNormalClosure, reason)
		slog.Info("Hub connection closed", "agent_id", agentID, "conn_id", c.id, "reason", reason)
	}
}
