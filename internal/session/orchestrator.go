// Package session is the source of truth for whether the agent has a
// usable authenticated session. It composes the REST client, the push
// channel and the credential store, and reduces every failure to a single
// display string for the view layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/deskline/internal/clock"
	"github.com/ashureev/deskline/internal/domain"
	"github.com/ashureev/deskline/internal/hub"
	"golang.org/x/sync/singleflight"
)

// Defaults for Config fields left at zero.
const (
	DefaultHeartbeatInterval   = 45 * time.Second
	DefaultChannelReadyTimeout = 5 * time.Second
)

// ErrSuperseded is returned when a logout or a newer login overtook the
// operation. Its result has been discarded.
var ErrSuperseded = errors.New("session superseded")

// API is the subset of the REST client the orchestrator drives.
type API interface {
	Login(ctx context.Context, req domain.LoginRequest) (*domain.AuthResponse, error)
	Register(ctx context.Context, req domain.RegisterRequest) (*domain.AuthResponse, error)
	Logout(ctx context.Context, agentID string) error
	Heartbeat(ctx context.Context, agentID string) (*domain.HeartbeatResponse, error)
}

// Channel is the push channel.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	OnStateChange(fn func(hub.State)) (unsubscribe func())
}

// Credentials is the credential store. The orchestrator never touches
// storage directly.
type Credentials interface {
	SetToken(token, refreshToken string)
	SaveAgentInfo(id, name, email string)
	Token() string
	HasValidToken() bool
	StoredAgentInfo() domain.AgentInfo
	Clear()
	ClearTokens()
}

// Config configures an Orchestrator.
type Config struct {
	API         API
	Channel     Channel
	Credentials Credentials
	Logger      *slog.Logger
	Clock       clock.Clock

	HeartbeatInterval   time.Duration
	ChannelReadyTimeout time.Duration

	// PreserveProfileOnFailedLogout keeps the stored agent name and email
	// when the server logout call fails. Tokens are always cleared.
	PreserveProfileOnFailedLogout bool
}

// State is the session as seen by the view layer.
type State struct {
	Connected        bool
	ChannelConnected bool
	Initialized      bool
	AgentID          string
	AgentName        string
	AgentEmail       string
	LastError        string
}

// Orchestrator owns the session lifecycle. It is safe for concurrent use.
type Orchestrator struct {
	api     API
	channel Channel
	creds   Credentials
	logger  *slog.Logger
	clock   clock.Clock

	heartbeatInterval   time.Duration
	channelReadyTimeout time.Duration
	preserveProfile     bool

	mu         sync.Mutex
	state      State
	generation uint64
	listeners  map[uint64]func(State)
	nextListen uint64

	initGroup   singleflight.Group
	restoreOnce sync.Once
	restored    bool
	restoreErr  error

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	sendMu   sync.Mutex

	unsubChannel func()
}

// New creates an Orchestrator with no session.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.API == nil || cfg.Channel == nil || cfg.Credentials == nil {
		return nil, fmt.Errorf("session: API, Channel and Credentials are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ChannelReadyTimeout <= 0 {
		cfg.ChannelReadyTimeout = DefaultChannelReadyTimeout
	}

	o := &Orchestrator{
		api:                 cfg.API,
		channel:             cfg.Channel,
		creds:               cfg.Credentials,
		logger:              cfg.Logger,
		clock:               cfg.Clock,
		heartbeatInterval:   cfg.HeartbeatInterval,
		channelReadyTimeout: cfg.ChannelReadyTimeout,
		preserveProfile:     cfg.PreserveProfileOnFailedLogout,
		listeners:           make(map[uint64]func(State)),
	}
	o.unsubChannel = o.channel.OnStateChange(o.onChannelState)
	return o, nil
}

// State returns a snapshot of the session.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe registers fn to receive every state change.
func (o *Orchestrator) Subscribe(fn func(State)) (unsubscribe func()) {
	o.mu.Lock()
	o.nextListen++
	id := o.nextListen
	o.listeners[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// Login authenticates, stores the credentials and initializes the session.
// A rejected login leaves LastError set and returns *domain.AuthError.
func (o *Orchestrator) Login(ctx context.Context, req domain.LoginRequest) (domain.AgentInfo, error) {
	gen := o.begin()
	resp, err := o.api.Login(ctx, req)
	if err != nil {
		o.fail(gen, err)
		return domain.AgentInfo{}, err
	}
	return o.establish(ctx, gen, resp)
}

// Register creates the account and continues as Login does.
func (o *Orchestrator) Register(ctx context.Context, req domain.RegisterRequest) (domain.AgentInfo, error) {
	gen := o.begin()
	resp, err := o.api.Register(ctx, req)
	if err != nil {
		o.fail(gen, err)
		return domain.AgentInfo{}, err
	}
	return o.establish(ctx, gen, resp)
}

// establish stores a successful auth response and runs initialization.
func (o *Orchestrator) establish(ctx context.Context, gen uint64, resp *domain.AuthResponse) (domain.AgentInfo, error) {
	info := resp.Info()
	if resp.Token == "" || !info.Valid() {
		err := fmt.Errorf("auth response missing token or agent id")
		o.fail(gen, err)
		return domain.AgentInfo{}, err
	}

	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		o.logger.Info("Discarding superseded login result", "agent_id", info.ID)
		return domain.AgentInfo{}, ErrSuperseded
	}
	o.state.AgentID, o.state.AgentName, o.state.AgentEmail = info.ID, info.Name, info.Email
	o.mu.Unlock()

	// A login without a refresh token must not inherit an older one.
	o.creds.Clear()
	o.creds.SetToken(resp.Token, resp.RefreshToken)
	o.creds.SaveAgentInfo(info.ID, info.Name, info.Email)

	// A logout may have landed while the writes were in progress. Only
	// our own token is removed so a newer login keeps its credentials.
	if !o.current(gen) {
		if o.creds.Token() == resp.Token {
			o.creds.Clear()
		}
		o.logger.Info("Discarding superseded login result", "agent_id", info.ID)
		return domain.AgentInfo{}, ErrSuperseded
	}
	o.logger.Info("Agent authenticated", "agent_id", info.ID)

	if err := o.initialize(ctx, gen); err != nil {
		return domain.AgentInfo{}, err
	}
	return info, nil
}

// RestoreSession resumes a stored session without contacting the login
// endpoint. It runs at most once per Orchestrator; later calls return the
// first call's result. restored is false when nothing usable was stored.
func (o *Orchestrator) RestoreSession(ctx context.Context) (restored bool, err error) {
	o.restoreOnce.Do(func() {
		o.restored, o.restoreErr = o.restore(ctx)
	})
	return o.restored, o.restoreErr
}

func (o *Orchestrator) restore(ctx context.Context) (bool, error) {
	info := o.creds.StoredAgentInfo()
	if !info.Valid() || !o.creds.HasValidToken() {
		o.logger.Debug("No stored session to restore")
		return false, nil
	}

	gen := o.begin()
	o.mu.Lock()
	if o.generation == gen {
		o.state.AgentID, o.state.AgentName, o.state.AgentEmail = info.ID, info.Name, info.Email
	}
	o.mu.Unlock()

	o.logger.Info("Restoring stored session", "agent_id", info.ID)
	if err := o.initialize(ctx, gen); err != nil {
		return false, err
	}
	return true, nil
}

// Connect (re)runs post-auth initialization for the current identity.
// Concurrent calls share one run.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.mu.Lock()
	id, gen := o.state.AgentID, o.generation
	ready := o.state.Initialized && o.state.ChannelConnected
	o.mu.Unlock()

	if id == "" || !o.creds.HasValidToken() {
		o.fail(gen, domain.ErrSessionNotInitialized)
		return domain.ErrSessionNotInitialized
	}
	if ready {
		return nil
	}
	return o.initialize(ctx, gen)
}

// initialize connects the push channel and starts the heartbeat. One run
// per generation is in flight at a time; concurrent callers share it.
func (o *Orchestrator) initialize(ctx context.Context, gen uint64) error {
	shared := context.WithoutCancel(ctx)
	ch := o.initGroup.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return nil, o.runInitialize(shared, gen)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) runInitialize(ctx context.Context, gen uint64) error {
	readyCtx, cancel := context.WithTimeout(ctx, o.channelReadyTimeout)
	err := o.channel.Connect(readyCtx)
	cancel()
	if err != nil {
		// The channel keeps retrying on its own; the session stays usable.
		o.logger.Warn("Push channel not ready, continuing without live updates",
			"timeout", o.channelReadyTimeout, "error", err)
	}

	o.mu.Lock()
	if o.generation != gen {
		newer := o.state.Initialized
		o.mu.Unlock()
		// The teardown that bumped the generation may have run before
		// Connect finished; the channel must not outlive it unless a
		// newer session already owns it.
		if newer {
			return ErrSuperseded
		}
		if err := o.channel.Disconnect(ctx); err != nil {
			o.logger.Warn("Push channel disconnect failed", "error", err)
		}
		return ErrSuperseded
	}
	o.state.Connected = true
	o.state.Initialized = true
	o.state.ChannelConnected = o.channel.IsConnected()
	o.state.LastError = ""
	notify := o.changedLocked()
	o.mu.Unlock()
	notify()

	o.StartHeartbeat()
	return nil
}

func (o *Orchestrator) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation == gen
}

// Logout tears the session down. The server call is best effort: its
// failure is logged and teardown proceeds. Tokens are always cleared;
// the profile survives a failed server call only when configured to.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.mu.Lock()
	o.generation++
	id := o.state.AgentID
	o.mu.Unlock()

	if id == "" {
		id = o.creds.StoredAgentInfo().ID
	}
	var serverErr error
	if id != "" && o.creds.HasValidToken() {
		if serverErr = o.api.Logout(ctx, id); serverErr != nil {
			o.logger.Warn("Server logout failed, clearing local session anyway", "agent_id", id, "error", serverErr)
		}
	}

	o.StopHeartbeat()
	if err := o.channel.Disconnect(ctx); err != nil {
		o.logger.Warn("Push channel disconnect failed", "error", err)
	}

	if serverErr != nil && o.preserveProfile {
		o.creds.ClearTokens()
	} else {
		o.creds.Clear()
	}

	o.mu.Lock()
	o.state = State{}
	notify := o.changedLocked()
	o.mu.Unlock()
	notify()

	o.logger.Info("Agent logged out", "agent_id", id)
	return nil
}

// HandleSessionExpired performs the implicit logout after a failed token
// refresh. The credential store has already been cleared by then.
func (o *Orchestrator) HandleSessionExpired() {
	o.mu.Lock()
	o.generation++
	id := o.state.AgentID
	o.mu.Unlock()

	o.logger.Warn("Session expired", "agent_id", id)
	o.StopHeartbeat()
	if err := o.channel.Disconnect(context.Background()); err != nil {
		o.logger.Warn("Push channel disconnect failed", "error", err)
	}

	o.mu.Lock()
	o.state = State{LastError: msgSessionExpired}
	notify := o.changedLocked()
	o.mu.Unlock()
	notify()
}

// Close stops background work without logging out.
func (o *Orchestrator) Close() {
	o.StopHeartbeat()
	if o.unsubChannel != nil {
		o.unsubChannel()
	}
}

// begin starts a new generation and clears the error.
func (o *Orchestrator) begin() uint64 {
	o.mu.Lock()
	o.generation++
	gen := o.generation
	var notify func()
	if o.state.LastError != "" {
		o.state.LastError = ""
		notify = o.changedLocked()
	}
	o.mu.Unlock()
	if notify != nil {
		notify()
	}
	return gen
}

// fail records err as LastError unless gen is stale.
func (o *Orchestrator) fail(gen uint64, err error) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.state.LastError = DisplayMessage(err)
	notify := o.changedLocked()
	o.mu.Unlock()
	notify()
}

func (o *Orchestrator) onChannelState(s hub.State) {
	o.mu.Lock()
	up := s == hub.StateConnected
	if !o.state.Initialized || o.state.ChannelConnected == up {
		o.mu.Unlock()
		return
	}
	o.state.ChannelConnected = up
	notify := o.changedLocked()
	o.mu.Unlock()

	o.logger.Info("Push channel state changed", "state", s.String())
	notify()
}

// changedLocked snapshots state and listeners; call the returned func
// after releasing o.mu.
func (o *Orchestrator) changedLocked() func() {
	snapshot := o.state
	fns := make([]func(State), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(snapshot)
		}
	}
}
