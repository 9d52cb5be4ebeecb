package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/deskline/internal/clock"
	"github.com/ashureev/deskline/internal/domain"
	"github.com/coder/websocket"
)

// testHub is a minimal hub server: it answers the handshake, completes
// every invocation and records what it received.
type testHub struct {
	srv      *httptest.Server
	reject   atomic.Int32
	tokens   chan string
	conns    chan *websocket.Conn
	received chan Message
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	h := &testHub{
		tokens:   make(chan string, 16),
		conns:    make(chan *websocket.Conn, 16),
		received: make(chan Message, 64),
	}
	h.srv = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *testHub) serve(w http.ResponseWriter, r *http.Request) {
	if h.reject.Load() > 0 {
		h.reject.Add(-1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	h.tokens <- r.URL.Query().Get("access_token")

	ctx := context.Background()
	if _, _, err := conn.Read(ctx); err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte("{}\x1e")); err != nil {
		return
	}
	h.conns <- conn

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		for _, rec := range SplitRecords(data) {
			var msg Message
			if json.Unmarshal(rec, &msg) != nil {
				continue
			}
			if msg.Type == TypeInvocation && msg.InvocationID != "" {
				reply, _ := EncodeRecord(Message{Type: TypeCompletion, InvocationID: msg.InvocationID})
				_ = conn.Write(ctx, websocket.MessageText, reply)
			}
			select {
			case h.received <- msg:
			default:
			}
		}
	}
}

func (h *testHub) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-h.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for hub connection")
		return nil
	}
}

func push(t *testing.T, conn *websocket.Conn, target string, payload any) {
	t.Helper()
	msg, err := NewInvocation("", target, payload)
	if err != nil {
		t.Fatalf("NewInvocation() error: %v", err)
	}
	send(t, conn, msg)
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	data, err := EncodeRecord(msg)
	if err != nil {
		t.Fatalf("EncodeRecord() error: %v", err)
	}
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("server write error: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestClient(t *testing.T, h *testHub, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = h.srv.URL
	if cfg.TokenFunc == nil {
		cfg.TokenFunc = func() string { return "tok 1" }
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

func TestClient_ConnectSendsTokenAndHandshake(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(t, h, Config{})

	var mu sync.Mutex
	var states []State
	c.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if !c.IsConnected() {
		t.Error("Expected connected after Connect")
	}
	if got := <-h.tokens; got != "tok 1" {
		t.Errorf("Expected access_token %q, got %q", "tok 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Errorf("Expected [connecting connected], got %v", states)
	}
}

func TestClient_CallsRequireConnection(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(t, h, Config{})
	ctx := context.Background()

	for name, call := range map[string]func() error{
		"JoinRoom":    func() error { return c.JoinRoom(ctx, "room-1") },
		"LeaveRoom":   func() error { return c.LeaveRoom(ctx, "room-1") },
		"SendMessage": func() error { return c.SendMessage(ctx, "s1", "hi") },
		"Ping":        func() error { return c.Ping(ctx) },
	} {
		if err := call(); !errors.Is(err, domain.ErrChannelNotConnected) {
			t.Errorf("%s: expected ErrChannelNotConnected, got %v", name, err)
		}
	}

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	h.nextConn(t)
	if err := c.JoinRoom(ctx, "room-1"); err != nil {
		t.Fatalf("JoinRoom() error: %v", err)
	}
	select {
	case msg := <-h.received:
		var room string
		_ = json.Unmarshal(msg.Arguments[0], &room)
		if msg.Target != domain.MethodJoinRoom || room != "room-1" {
			t.Errorf("Expected JoinRoom(room-1), got %s(%s)", msg.Target, room)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Server never received JoinRoom")
	}
}

func TestClient_TypedSubscriptionAndDisposer(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(t, h, Config{})

	statusChanges := make(chan domain.TicketStatusChanged, 4)
	dispose := On(c, domain.EventTicketStatusChanged, func(p domain.TicketStatusChanged) {
		statusChanges <- p
	})
	presence := make(chan domain.AgentPresence, 4)
	On(c, domain.EventAgentConnected, func(p domain.AgentPresence) { presence <- p })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	conn := h.nextConn(t)

	push(t, conn, domain.EventTicketStatusChanged, map[string]string{
		"TicketId": "t1", "OldStatus": "Open", "NewStatus": "Resolved",
	})
	select {
	case p := <-statusChanges:
		if p.TicketID != "t1" || p.NewStatus != "Resolved" {
			t.Errorf("Unexpected payload %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("TicketStatusChanged not delivered")
	}

	dispose()
	// Events dispatch serially, so once AgentConnected arrives the disposed
	// handler has had its chance to (wrongly) run.
	push(t, conn, domain.EventTicketStatusChanged, map[string]string{"TicketId": "t2"})
	push(t, conn, domain.EventAgentConnected, map[string]string{"AgentName": "Bo"})
	select {
	case p := <-presence:
		if p.AgentName != "Bo" {
			t.Errorf("Expected AgentName Bo, got %q", p.AgentName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AgentConnected not delivered")
	}
	select {
	case p := <-statusChanges:
		t.Errorf("Expected no delivery after dispose, got %+v", p)
	default:
	}
}

func TestClient_UpdateEventHandlerReplacesSlot(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(t, h, Config{})

	var first, second atomic.Int32
	c.SetEventHandlers(EventHandlers{
		TicketCreated: func(domain.Ticket) { first.Add(1) },
	})
	c.SetEventHandlers(EventHandlers{
		AgentTyping: func(domain.AgentTyping) {},
	})
	c.UpdateEventHandler(domain.EventTicketCreated, func([]json.RawMessage) { second.Add(1) })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	conn := h.nextConn(t)
	push(t, conn, domain.EventTicketCreated, domain.Ticket{ID: "t1"})

	waitFor(t, "replacement handler", func() bool { return second.Load() == 1 })
	if first.Load() != 0 {
		t.Error("Expected replaced handler not to run")
	}
}

func TestClient_ManualReconnectResetsCounter(t *testing.T) {
	h := newTestHub(t)
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestClient(t, h, Config{Clock: clk})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	conn := h.nextConn(t)

	// The next three dials fail; the fourth succeeds.
	h.reject.Store(3)
	send(t, conn, Message{Type: TypeClose, Error: "Connection closed with an error."})

	// Attempt 1 has no delay and fails at once; attempt 2 waits 2s.
	clk.WaitForTimers(1)
	if got := c.ReconnectAttempts(); got != 2 {
		t.Fatalf("Expected 2 attempts scheduled, got %d", got)
	}
	if c.IsConnected() {
		t.Fatal("Expected disconnected while reconnecting")
	}

	clk.Advance(2 * time.Second) // attempt 2 fails, attempt 3 in 10s
	clk.Advance(10 * time.Second) // attempt 3 fails, attempt 4 in 30s
	if got := c.ReconnectAttempts(); got != 4 {
		t.Fatalf("Expected 4 attempts scheduled, got %d", got)
	}
	clk.Advance(30 * time.Second) // attempt 4 succeeds

	if !c.IsConnected() {
		t.Fatal("Expected connected after fourth attempt")
	}
	if got := c.ReconnectAttempts(); got != 0 {
		t.Errorf("Expected attempt counter reset to 0, got %d", got)
	}
}

func TestClient_ReconnectGivesUpAtCap(t *testing.T) {
	h := newTestHub(t)
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestClient(t, h, Config{
		Clock:                clk,
		ReconnectDelays:      []time.Duration{time.Second},
		MaxReconnectAttempts: 3,
	})

	h.reject.Store(100)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Expected Connect to fail while hub rejects")
	}
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
	}
	if got := c.ReconnectAttempts(); got != 3 {
		t.Errorf("Expected counter capped at 3, got %d", got)
	}
	if got := clk.PendingTimers(); got != 0 {
		t.Errorf("Expected no pending reconnect after cap, got %d", got)
	}
	if c.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %v", c.State())
	}

	h.reject.Store(0)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if c.ReconnectAttempts() != 0 {
		t.Errorf("Expected counter reset by Connect, got %d", c.ReconnectAttempts())
	}
}

func TestClient_DisconnectCancelsPendingReconnect(t *testing.T) {
	h := newTestHub(t)
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestClient(t, h, Config{Clock: clk, ReconnectDelays: []time.Duration{5 * time.Second}})

	h.reject.Store(1)
	_ = c.Connect(context.Background())
	if clk.PendingTimers() != 1 {
		t.Fatalf("Expected a pending reconnect, got %d", clk.PendingTimers())
	}

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if clk.PendingTimers() != 0 {
		t.Errorf("Expected pending reconnect cancelled, got %d", clk.PendingTimers())
	}
	clk.Advance(time.Minute)
	if c.State() != StateDisconnected {
		t.Errorf("Expected to stay disconnected, got %v", c.State())
	}
}

func TestClient_AutomaticReconnect(t *testing.T) {
	h := newTestHub(t)
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestClient(t, h, Config{Clock: clk, AutoReconnectDelays: []time.Duration{time.Second}})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	conn := h.nextConn(t)
	_ = conn.Close(websocket.StatusInternalError, "crash")

	clk.WaitForTimers(1)
	if c.State() != StateReconnecting {
		t.Fatalf("Expected reconnecting, got %v", c.State())
	}
	clk.Advance(time.Second)
	if !c.IsConnected() {
		t.Errorf("Expected reconnected, got %v", c.State())
	}
	if c.ReconnectAttempts() != 0 {
		t.Errorf("Expected manual counter untouched, got %d", c.ReconnectAttempts())
	}
}

func TestClient_CleanServerCloseDoesNotReconnect(t *testing.T) {
	h := newTestHub(t)
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestClient(t, h, Config{Clock: clk})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	conn := h.nextConn(t)
	send(t, conn, Message{Type: TypeClose})

	waitFor(t, "disconnect", func() bool { return c.State() == StateDisconnected })
	if clk.PendingTimers() != 0 || c.ReconnectAttempts() != 0 {
		t.Error("Expected no reconnect after a clean close")
	}
}
