package mockdesk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/deskline/internal/domain"
	"github.com/ashureev/deskline/internal/hub"
	"github.com/ashureev/deskline/internal/identity"
	"golang.org/x/crypto/bcrypt"
)

const testHubPath = "/hubs/live-support"

type hubFixture struct {
	backend *Backend
	server  *HubServer
	url     string
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	backend := NewBackend(Options{BcryptCost: bcrypt.MinCost})
	server := NewHubServer(backend, nil, nil)

	mux := http.NewServeMux()
	mux.Handle(testHubPath, identity.Middleware(backend)(server))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &hubFixture{backend: backend, server: server, url: srv.URL}
}

func (f *hubFixture) dial(t *testing.T, token string) *hub.Client {
	t.Helper()
	c, err := hub.New(hub.Config{
		BaseURL:              f.url,
		HubPath:              testHubPath,
		TokenFunc:            func() string { return token },
		MaxReconnectAttempts: 1,
	})
	if err != nil {
		t.Fatalf("new hub client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		var zero T
		t.Fatal("Timed out waiting for hub event")
		return zero
	}
}

// receiveMatching skips events until match accepts one. Presence events
// for the receiving connection itself can arrive after subscribing.
func receiveMatching[T any](t *testing.T, ch <-chan T, match func(T) bool) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-ch:
			if match(v) {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatal("Timed out waiting for matching hub event")
			return zero
		}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for condition")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_RejectsMissingToken(t *testing.T) {
	f := newHubFixture(t)
	c, err := hub.New(hub.Config{BaseURL: f.url, HubPath: testHubPath, TokenFunc: func() string { return "" }})
	if err != nil {
		t.Fatalf("new hub client: %v", err)
	}
	defer func() { _ = c.Disconnect(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("Expected connect without token to fail")
	}
}

func TestHub_PresenceEvents(t *testing.T) {
	f := newHubFixture(t)
	ann := mustRegister(t, f.backend, "Ann", "ann@example.com")
	bob := mustRegister(t, f.backend, "Bob", "bob@example.com")

	annClient := f.dial(t, ann.Token)
	connected := make(chan domain.AgentPresence, 4)
	disconnected := make(chan domain.AgentPresence, 4)
	hub.On(annClient, domain.EventAgentConnected, func(p domain.AgentPresence) { connected <- p })
	hub.On(annClient, domain.EventAgentDisconnected, func(p domain.AgentPresence) { disconnected <- p })

	bobClient := f.dial(t, bob.Token)
	isBob := func(p domain.AgentPresence) bool { return p.AgentName == "Bob" }
	receiveMatching(t, connected, isBob)
	st, _ := f.backend.AgentStatus(bob.ID)
	if !st.IsOnline {
		t.Error("Expected Bob online after connecting")
	}

	if err := bobClient.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	receiveMatching(t, disconnected, isBob)
	waitUntil(t, func() bool { return f.server.Connections().Connections() == 1 })
}

func TestHub_RoomMessaging(t *testing.T) {
	f := newHubFixture(t)
	ann := mustRegister(t, f.backend, "Ann", "ann@example.com")
	s, err := f.backend.CreateSession(ann.ID, domain.CreateSessionRequest{UserID: "user-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	c := f.dial(t, ann.Token)
	joined := make(chan domain.AgentRoomChange, 1)
	messages := make(chan domain.ReceiveMessage, 1)
	c.SetEventHandlers(hub.EventHandlers{
		AgentJoined:    func(e domain.AgentRoomChange) { joined <- e },
		ReceiveMessage: func(m domain.ReceiveMessage) { messages <- m },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.JoinRoom(ctx, s.SessionID); err != nil {
		t.Fatalf("join room: %v", err)
	}
	if e := receive(t, joined); e.AgentID != ann.ID || e.SessionID != s.SessionID {
		t.Errorf("Expected Ann joined %s, got %+v", s.SessionID, e)
	}

	if err := c.SendMessage(ctx, s.SessionID, "hello there"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if m := receive(t, messages); m.Text != "hello there" || m.SenderName != "Ann" {
		t.Errorf("Expected Ann's message, got %+v", m)
	}

	page, err := f.backend.Messages(s.SessionID, domain.MessagesQuery{})
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Errorf("Expected message to be stored, got %d", len(page.Messages))
	}

	if err := c.LeaveRoom(ctx, s.SessionID); err != nil {
		t.Fatalf("leave room: %v", err)
	}
	f.server.Broadcast(s.SessionID, domain.EventReceiveMessage, domain.ReceiveMessage{Text: "after leave"})
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	select {
	case m := <-messages:
		t.Errorf("Expected no delivery after leaving, got %+v", m)
	default:
	}
}

func TestHub_InvocationErrors(t *testing.T) {
	f := newHubFixture(t)
	ann := mustRegister(t, f.backend, "Ann", "ann@example.com")
	c := f.dial(t, ann.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.SendMessage(ctx, "missing-session", "hi")
	if err == nil {
		t.Fatal("Expected SendMessage to an unknown session to fail")
	}
	if errors.Is(err, domain.ErrChannelNotConnected) {
		t.Errorf("Expected a server error, got %v", err)
	}
	if !c.IsConnected() {
		t.Error("Expected channel to stay connected after a failed invocation")
	}
}

func TestHub_BroadcastArbitraryEvent(t *testing.T) {
	f := newHubFixture(t)
	ann := mustRegister(t, f.backend, "Ann", "ann@example.com")
	c := f.dial(t, ann.Token)

	created := make(chan domain.Ticket, 1)
	c.SetEventHandlers(hub.EventHandlers{
		TicketCreated: func(tk domain.Ticket) { created <- tk },
	})

	f.server.Broadcast("", domain.EventTicketCreated, map[string]any{
		"Id":       "T-1",
		"Title":    "Printer on fire",
		"Priority": 3,
		"Status":   "Open",
	})
	tk := receive(t, created)
	if tk.ID != "T-1" || tk.Priority != domain.PriorityCritical || tk.Status != domain.StatusOpen {
		t.Errorf("Expected decoded ticket T-1, got %+v", tk)
	}
}
