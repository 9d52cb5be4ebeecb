// deskagent - terminal console for a support-desk agent
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/deskline/internal/config"
	"github.com/ashureev/deskline/internal/desk"
	"github.com/ashureev/deskline/internal/domain"
	"github.com/ashureev/deskline/internal/hub"
	"github.com/ashureev/deskline/internal/session"
	"github.com/ashureev/deskline/internal/store"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

type options struct {
	email     string
	password  string
	name      string
	register  bool
	rooms     []string
	logout    bool
	ephemeral bool
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var opts options
	flag.StringVar(&opts.email, "email", os.Getenv("DESK_EMAIL"), "agent email")
	flag.StringVar(&opts.password, "password", "", "agent password (default $DESK_PASSWORD)")
	flag.StringVar(&opts.name, "name", "", "display name, required with --register")
	flag.BoolVar(&opts.register, "register", false, "create the account before signing in")
	flag.StringSliceVar(&opts.rooms, "join", nil, "session rooms to join (repeatable or comma separated)")
	flag.BoolVar(&opts.logout, "logout", false, "log out on exit instead of keeping the stored session")
	flag.BoolVar(&opts.ephemeral, "ephemeral", false, "keep credentials in memory only")
	flag.Parse()
	if opts.password == "" {
		opts.password = os.Getenv("DESK_PASSWORD")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, opts, logger); err != nil {
		slog.Error("deskagent failed", "error", err, "message", session.DisplayMessage(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, opts options, logger *slog.Logger) error {
	var appOpts desk.Options
	if opts.ephemeral {
		appOpts.Storage = store.NewMemory()
	}
	app, err := desk.New(cfg, logger, appOpts)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			slog.Error("Failed to close app", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watch(app)

	if err := signIn(ctx, app, opts); err != nil {
		return err
	}

	joinRooms(ctx, app, opts.rooms)
	// Room membership does not survive a reconnect.
	app.Hub.OnStateChange(func(s hub.State) {
		if s == hub.StateConnected {
			go joinRooms(ctx, app, opts.rooms)
		}
	})

	<-ctx.Done()
	stop()
	slog.Info("Shutting down...")

	if opts.logout {
		logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		if err := app.Session.Logout(logoutCtx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	return nil
}

func joinRooms(ctx context.Context, app *desk.App, rooms []string) {
	for _, room := range rooms {
		if err := app.Hub.JoinRoom(ctx, room); err != nil {
			slog.Warn("Failed to join room", "room", room, "error", err, "message", session.DisplayMessage(err))
			continue
		}
		slog.Info("Joined room", "room", room)
	}
}

// signIn restores a stored session, falling back to credentials.
func signIn(ctx context.Context, app *desk.App, opts options) error {
	if !opts.register {
		restored, err := app.Session.RestoreSession(ctx)
		if err != nil {
			slog.Warn("Stored session could not be restored", "error", err)
		}
		if restored {
			st := app.Session.State()
			slog.Info("Session restored", "agent_id", st.AgentID, "agent_name", st.AgentName)
			return nil
		}
	}

	if opts.email == "" || opts.password == "" {
		return errors.New("no stored session: --email and --password are required")
	}

	var (
		info domain.AgentInfo
		err  error
	)
	if opts.register {
		if opts.name == "" {
			return errors.New("--name is required with --register")
		}
		info, err = app.Session.Register(ctx, domain.RegisterRequest{Name: opts.name, Email: opts.email, Password: opts.password})
	} else {
		info, err = app.Session.Login(ctx, domain.LoginRequest{Email: opts.email, Password: opts.password})
	}
	if err != nil {
		return err
	}
	slog.Info("Signed in", "agent_id", info.ID, "agent_name", info.Name)
	return nil
}

// watch logs every push event and state change.
func watch(app *desk.App) {
	app.Session.Subscribe(func(st session.State) {
		slog.Info("Session state",
			"connected", st.Connected,
			"channel_connected", st.ChannelConnected,
			"initialized", st.Initialized,
			"agent_id", st.AgentID,
			"last_error", st.LastError)
	})
	app.Hub.OnStateChange(func(s hub.State) {
		slog.Info("Push channel state", "state", s.String(), "reconnect_attempts", app.Hub.ReconnectAttempts())
	})

	app.Hub.SetEventHandlers(hub.EventHandlers{
		TicketCreated: func(t domain.Ticket) {
			slog.Info("Ticket created", "ticket_id", t.ID, "title", t.Title, "priority", t.Priority.String())
		},
		TicketUpdated: func(t domain.Ticket) {
			slog.Info("Ticket updated", "ticket_id", t.ID, "status", t.Status.String(), "assigned_to", t.AssignedAgent)
		},
		TicketStatusChanged: func(e domain.TicketStatusChanged) {
			slog.Info("Ticket status changed", "ticket_id", e.TicketID, "from", e.OldStatus, "to", e.NewStatus)
		},
		TicketAssigned: func(e domain.TicketAssigned) {
			slog.Info("Ticket assigned", "ticket_id", e.TicketID, "agent_id", e.AgentID, "agent_name", e.AgentName)
		},
		AgentConnected: func(e domain.AgentPresence) {
			slog.Info("Agent connected", "agent_name", e.AgentName)
		},
		AgentDisconnected: func(e domain.AgentPresence) {
			slog.Info("Agent disconnected", "agent_name", e.AgentName)
		},
		ReceiveMessage: func(m domain.ReceiveMessage) {
			slog.Info("Message", "session_id", m.SessionID, "from", m.SenderName, "sender_type", string(m.SenderType), "text", m.Text)
		},
		AgentTyping: func(e domain.AgentTyping) {
			slog.Debug("Agent typing", "session_id", e.SessionID, "agent_name", e.AgentName, "typing", e.IsTyping)
		},
		AgentJoined: func(e domain.AgentRoomChange) {
			slog.Info("Agent joined", "session_id", e.SessionID, "agent_name", e.AgentName)
		},
		AgentLeft: func(e domain.AgentRoomChange) {
			slog.Info("Agent left", "session_id", e.SessionID, "agent_name", e.AgentName)
		},
		UpdateQueue: func(q domain.UpdateQueue) {
			slog.Info("Queue updated", "queue_length", q.QueueLength, "waiting", len(q.WaitingTickets))
		},
	})
}
