// Package hub is the push channel client. It keeps a WebSocket connection
// to the support-desk hub, speaks the JSON hub protocol over it, dispatches
// server events to subscribers and reconnects on unexpected loss.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/deskline/internal/clock"
	"github.com/ashureev/deskline/internal/domain"
	"github.com/coder/websocket"
)

// Defaults for Config fields left at zero. KeepAliveInterval and
// ServerTimeout are not defaulted: zero disables them.
const (
	DefaultHubPath              = "/hubs/live-support"
	DefaultHandshakeTimeout     = 15 * time.Second
	DefaultKeepAliveInterval    = 15 * time.Second
	DefaultServerTimeout        = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// DefaultReconnectDelays is the manual reconnect schedule. The last delay
// repeats.
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

const maxMessageBytes = 1 << 20

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Config configures a Client.
type Config struct {
	// BaseURL is the hub origin, e.g. "https://desk.example.com".
	BaseURL string
	// HubPath is appended to BaseURL. Empty means DefaultHubPath.
	HubPath string
	// TokenFunc returns the access token; it is called on every dial.
	TokenFunc func() string
	// HTTPClient is used for the upgrade request. Its Timeout must be zero.
	HTTPClient *http.Client
	Logger     *slog.Logger
	Clock      clock.Clock

	// AutoReconnectDelays drives the automatic retry after an unexpected
	// close. Nil or empty disables it.
	AutoReconnectDelays []time.Duration
	// ReconnectDelays drives the manual loop. Nil means DefaultReconnectDelays.
	ReconnectDelays      []time.Duration
	MaxReconnectAttempts int

	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	ServerTimeout     time.Duration
}

// Client is the push channel client. It is safe for concurrent use.
type Client struct {
	endpoint string
	cfg      Config
	logger   *slog.Logger
	clock    clock.Clock
	registry *registry

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	connCancel  context.CancelFunc
	epoch       uint64
	attempts    int
	pending     *clock.Timer
	timerSeq    uint64
	invocations map[string]chan error
	nextInvoke  uint64
	listeners   map[uint64]func(State)
	nextListen  uint64

	slotMu sync.Mutex
	slots  map[string]func()
}

// New creates a disconnected Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("hub: BaseURL is required")
	}
	if cfg.HubPath == "" {
		cfg.HubPath = DefaultHubPath
	}
	endpoint, err := wsEndpoint(cfg.BaseURL, cfg.HubPath)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.ReconnectDelays == nil {
		cfg.ReconnectDelays = DefaultReconnectDelays
	}
	if len(cfg.ReconnectDelays) == 0 {
		return nil, fmt.Errorf("hub: ReconnectDelays cannot be empty")
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	return &Client{
		endpoint:    endpoint,
		cfg:         cfg,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		registry:    newRegistry(),
		invocations: make(map[string]chan error),
		listeners:   make(map[uint64]func(State)),
		slots:       make(map[string]func()),
	}, nil
}

func wsEndpoint(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", fmt.Errorf("hub: invalid hub URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("hub: unsupported URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Endpoint returns the hub URL without the token.
func (c *Client) Endpoint() string { return c.endpoint }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the channel is Connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// ReconnectAttempts returns the manual reconnect counter.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// OnStateChange registers fn for every state transition. Listeners run
// outside the client's lock.
func (c *Client) OnStateChange(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextListen++
	id := c.nextListen
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Connect opens the channel. It is a no-op when already connected. It
// resets the reconnect counter and cancels any pending attempt; on failure
// the manual reconnect loop takes over and the dial error is returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	epoch := c.epoch
	c.cancelPendingLocked()
	c.attempts = 0
	c.mu.Unlock()

	if err := c.dial(ctx, epoch, StateConnecting); err != nil {
		c.logger.Warn("Hub connection failed", "endpoint", c.endpoint, "error", err)
		c.scheduleReconnect(epoch)
		return err
	}
	return nil
}

// Disconnect closes the channel and cancels any pending reconnect.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.cancelPendingLocked()
	c.attempts = 0
	conn := c.conn
	cancel := c.connCancel
	c.conn, c.connCancel = nil, nil
	c.failInvocationsLocked()
	notify := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	notify()

	if conn == nil {
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
	if cancel != nil {
		cancel()
	}
	if err != nil && websocket.CloseStatus(err) == -1 {
		c.logger.Debug("Hub close handshake failed", "error", err)
	}
	c.logger.Info("Hub disconnected")
	return nil
}

// dial connects and performs the handshake. transitional is the state
// shown while dialling: Connecting, or Reconnecting during automatic
// retries (which stays in place on failure).
func (c *Client) dial(ctx context.Context, epoch uint64, transitional State) error {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return errSuperseded
	}
	notify := c.setStateLocked(transitional)
	c.mu.Unlock()
	notify()

	conn, leftover, err := c.open(ctx)
	if err != nil {
		c.mu.Lock()
		if c.epoch == epoch && transitional == StateConnecting {
			notify = c.setStateLocked(StateDisconnected)
		} else {
			notify = func() {}
		}
		c.mu.Unlock()
		notify()
		return err
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return errSuperseded
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCancel = cancel
	c.attempts = 0
	notify = c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("Hub connected", "endpoint", c.endpoint)
	notify()

	go c.readLoop(runCtx, conn, epoch, leftover)
	if c.cfg.KeepAliveInterval > 0 {
		go c.keepAlive(runCtx, conn)
	}
	return nil
}

var errSuperseded = errors.New("hub: connection attempt superseded")

// open dials the endpoint and completes the protocol handshake. Records
// that arrived with the handshake response are returned for dispatch.
func (c *Client) open(ctx context.Context) (*websocket.Conn, [][]byte, error) {
	target := c.endpoint
	if c.cfg.TokenFunc != nil {
		if token := c.cfg.TokenFunc(); token != "" {
			target += "?access_token=" + url.QueryEscape(token)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: c.cfg.HTTPClient})
	if err != nil {
		return nil, nil, &domain.NetworkError{Op: "dial hub", Err: err}
	}
	conn.SetReadLimit(maxMessageBytes)

	leftover, err := handshake(ctx, conn)
	if err != nil {
		conn.CloseNow()
		return nil, nil, err
	}
	return conn, leftover, nil
}

func handshake(ctx context.Context, conn *websocket.Conn) ([][]byte, error) {
	req, err := EncodeRecord(DefaultHandshake)
	if err != nil {
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		return nil, &domain.NetworkError{Op: "hub handshake", Err: err}
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, &domain.NetworkError{Op: "hub handshake", Err: err}
	}
	records := SplitRecords(data)
	if len(records) == 0 {
		return nil, fmt.Errorf("hub handshake: empty response")
	}
	var resp HandshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return nil, fmt.Errorf("hub handshake: decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("hub handshake rejected: %s", resp.Error)
	}
	return records[1:], nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, epoch uint64, leftover [][]byte) {
	for _, rec := range leftover {
		if done, lost := c.handleRecord(rec); done {
			c.connectionLost(epoch, conn, lost)
			return
		}
	}

	for {
		readCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.cfg.ServerTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, c.cfg.ServerTimeout)
		}
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var lost error
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				lost = err
			}
			c.connectionLost(epoch, conn, lost)
			return
		}

		for _, rec := range SplitRecords(data) {
			if done, lost := c.handleRecord(rec); done {
				c.connectionLost(epoch, conn, lost)
				return
			}
		}
	}
}

// handleRecord processes one server record. done reports a Close message;
// lost is its error, if any.
func (c *Client) handleRecord(rec []byte) (done bool, lost error) {
	var msg Message
	if err := json.Unmarshal(rec, &msg); err != nil {
		c.logger.Warn("Dropping malformed hub record", "error", err)
		return false, nil
	}

	switch msg.Type {
	case TypeInvocation:
		if n := c.registry.dispatch(msg.Target, msg.Arguments); n == 0 {
			c.logger.Debug("No handler for hub event", "event", msg.Target)
		}
	case TypeCompletion:
		c.complete(msg)
	case TypePing:
	case TypeClose:
		if msg.Error != "" {
			return true, fmt.Errorf("server closed connection: %s", msg.Error)
		}
		return true, nil
	default:
		c.logger.Debug("Ignoring hub message", "type", int(msg.Type))
	}
	return false, nil
}

// connectionLost tears down conn. A nil cause is a clean server close and
// leaves the channel Disconnected; otherwise reconnection starts.
func (c *Client) connectionLost(epoch uint64, conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.epoch != epoch || c.conn != conn {
		c.mu.Unlock()
		return
	}
	if c.connCancel != nil {
		c.connCancel()
	}
	c.conn, c.connCancel = nil, nil
	c.failInvocationsLocked()
	auto := cause != nil && len(c.cfg.AutoReconnectDelays) > 0
	next := StateDisconnected
	if auto {
		next = StateReconnecting
	}
	notify := c.setStateLocked(next)
	c.mu.Unlock()

	conn.CloseNow()
	notify()

	if cause == nil {
		c.logger.Info("Hub connection closed by server")
		return
	}
	c.logger.Warn("Hub connection lost", "error", cause)
	if auto {
		c.scheduleAutoReconnect(epoch, 0)
		return
	}
	c.scheduleReconnect(epoch)
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := c.clock.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	ping, err := EncodeRecord(Message{Type: TypePing})
	if err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, ping); err != nil {
				c.logger.Debug("Hub keepalive failed", "error", err)
				return
			}
		}
	}
}

// setStateLocked records s and returns a func that notifies listeners.
// Call the func after releasing c.mu.
func (c *Client) setStateLocked(s State) func() {
	if c.state == s {
		return func() {}
	}
	c.state = s
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(s)
		}
	}
}

func (c *Client) cancelPendingLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}
