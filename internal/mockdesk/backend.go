// Package mockdesk is an in-memory support-desk backend: agent accounts,
// opaque bearer tokens, chat sessions and presence. It backs the deskmock
// server and the client's integration tests.
package mockdesk

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/deskline/internal/clock"
	"github.com/ashureev/deskline/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	defaultPageSize = 20
	maxPageSize     = 100
	defaultLimit    = 50
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrNotFound           = errors.New("not found")
)

// Notifier publishes a hub event to a room. An empty room means every
// connected agent.
type Notifier func(room, event string, payload any)

// Options configures a Backend. Zero values select defaults.
type Options struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Clock      clock.Clock
	Logger     *slog.Logger
}

type agentRecord struct {
	info          domain.AgentInfo
	passwordHash  []byte
	createdAt     time.Time
	online        bool
	lastHeartbeat time.Time
}

type token struct {
	agentID string
	expires time.Time
}

// Backend holds all mock state behind a single mutex.
type Backend struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	agents   map[string]*agentRecord
	byEmail  map[string]string
	access   map[string]token
	refresh  map[string]token
	sessions map[string]*domain.Session
	messages map[string][]domain.Message
	health   domain.HealthStatus
	notify   Notifier
}

// NewBackend creates an empty backend.
func NewBackend(opts Options) *Backend {
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if opts.RefreshTokenTTL <= 0 {
		opts.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Backend{
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.Logger,
		agents:   make(map[string]*agentRecord),
		byEmail:  make(map[string]string),
		access:   make(map[string]token),
		refresh:  make(map[string]token),
		sessions: make(map[string]*domain.Session),
		messages: make(map[string][]domain.Message),
		health:   domain.HealthHealthy,
	}
}

// SetNotifier installs the hub publisher. Events raised before a notifier
// is installed are dropped.
func (b *Backend) SetNotifier(n Notifier) {
	b.mu.Lock()
	b.notify = n
	b.mu.Unlock()
}

func (b *Backend) publish(room, event string, payload any) {
	b.mu.RLock()
	n := b.notify
	b.mu.RUnlock()
	if n != nil {
		n(room, event, payload)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an agent and signs it in.
func (b *Backend) Register(req domain.RegisterRequest) (*domain.AuthResponse, error) {
	name := strings.TrimSpace(req.Name)
	email := normalizeEmail(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), b.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.byEmail[email]; taken {
		return nil, ErrEmailTaken
	}
	rec := &agentRecord{
		info:         domain.AgentInfo{ID: uuid.NewString(), Name: name, Email: email},
		passwordHash: hash,
		createdAt:    b.clock.Now().UTC(),
	}
	b.agents[rec.info.ID] = rec
	b.byEmail[email] = rec.info.ID
	b.logger.Info("Agent registered", "agent_id", rec.info.ID, "email", email)
	return b.issueLocked(rec), nil
}

// Login verifies credentials and issues a fresh token pair.
func (b *Backend) Login(req domain.LoginRequest) (*domain.AuthResponse, error) {
	email := normalizeEmail(req.Email)

	b.mu.RLock()
	rec := b.agents[b.byEmail[email]]
	b.mu.RUnlock()
	if rec == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueLocked(rec), nil
}

// Refresh rotates a refresh token. The old refresh token stops working.
func (b *Backend) Refresh(refreshToken string) (*domain.AuthResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tok, ok := b.refresh[refreshToken]
	if !ok {
		return nil, ErrInvalidToken
	}
	delete(b.refresh, refreshToken)
	if !b.clock.Now().Before(tok.expires) {
		return nil, ErrInvalidToken
	}
	rec := b.agents[tok.agentID]
	if rec == nil {
		return nil, ErrInvalidToken
	}
	return b.issueLocked(rec), nil
}

func (b *Backend) issueLocked(rec *agentRecord) *domain.AuthResponse {
	now := b.clock.Now().UTC()
	accessExp := now.Add(b.opts.AccessTokenTTL)
	refreshExp := now.Add(b.opts.RefreshTokenTTL)

	access := uuid.NewString()
	refresh := uuid.NewString()
	b.access[access] = token{agentID: rec.info.ID, expires: accessExp}
	b.refresh[refresh] = token{agentID: rec.info.ID, expires: refreshExp}

	return &domain.AuthResponse{
		ID:                    rec.info.ID,
		Name:                  rec.info.Name,
		Email:                 rec.info.Email,
		CreatedAt:             rec.createdAt,
		Token:                 access,
		ExpiresAt:             &accessExp,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: &refreshExp,
	}
}

// ResolveAccessToken returns the agent that owns a live access token.
func (b *Backend) ResolveAccessToken(accessToken string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tok, ok := b.access[accessToken]
	if !ok || !b.clock.Now().Before(tok.expires) {
		return "", false
	}
	return tok.agentID, true
}

// ExpireAccessTokens invalidates every access token, leaving refresh
// tokens usable.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	clear(b.access)
	b.mu.Unlock()
}

// RevokeRefreshTokens invalidates every refresh token of an agent.
func (b *Backend) RevokeRefreshTokens(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, tok := range b.refresh {
		if tok.agentID == agentID {
			delete(b.refresh, k)
		}
	}
}

// Agent returns an agent's identity.
func (b *Backend) Agent(agentID string) (domain.AgentInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.agents[agentID]
	if !ok {
		return domain.AgentInfo{}, false
	}
	return rec.info, true
}

// Logout revokes every token of the agent and marks it offline.
func (b *Backend) Logout(agentID string) error {
	b.mu.Lock()
	rec, ok := b.agents[agentID]
	if !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	for k, tok := range b.access {
		if tok.agentID == agentID {
			delete(b.access, k)
		}
	}
	for k, tok := range b.refresh {
		if tok.agentID == agentID {
			delete(b.refresh, k)
		}
	}
	wasOnline := rec.online
	rec.online = false
	name := rec.info.Name
	b.mu.Unlock()

	b.logger.Info("Agent logged out", "agent_id", agentID)
	if wasOnline {
		b.publish("", domain.EventAgentDisconnected, domain.AgentPresence{AgentName: name, Timestamp: b.clock.Now().UTC()})
	}
	return nil
}

// Heartbeat records agent liveness.
func (b *Backend) Heartbeat(agentID string) (*domain.HeartbeatResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	now := b.clock.Now().UTC()
	rec.lastHeartbeat = now
	rec.online = true
	return &domain.HeartbeatResponse{Message: "Heartbeat received", Timestamp: now}, nil
}

// SetOnline flips presence and reports whether it changed. Coming online
// counts as a heartbeat.
func (b *Backend) SetOnline(agentID string, online bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.agents[agentID]
	if !ok {
		return false
	}
	changed := rec.online != online
	rec.online = online
	if online {
		rec.lastHeartbeat = b.clock.Now().UTC()
	}
	return changed
}

// ExpirePresence marks online agents whose last heartbeat is older than
// ttl as offline and returns them.
func (b *Backend) ExpirePresence(ttl time.Duration) []domain.AgentInfo {
	cutoff := b.clock.Now().Add(-ttl)

	b.mu.Lock()
	defer b.mu.Unlock()
	var expired []domain.AgentInfo
	for _, rec := range b.agents {
		if rec.online && rec.lastHeartbeat.Before(cutoff) {
			rec.online = false
			expired = append(expired, rec.info)
		}
	}
	slices.SortFunc(expired, func(a, b domain.AgentInfo) int { return cmp.Compare(a.ID, b.ID) })
	return expired
}

// ListAgents filters by name or email and pages the result ordered by name.
func (b *Backend) ListAgents(params domain.ListAgentsParams) *domain.AgentsPage {
	page := max(params.Page, 1)
	size := params.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)
	search := strings.ToLower(strings.TrimSpace(params.Search))

	b.mu.RLock()
	matched := make([]domain.AgentSummary, 0, len(b.agents))
	for _, rec := range b.agents {
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.info.Name), search) &&
			!strings.Contains(rec.info.Email, search) {
			continue
		}
		matched = append(matched, domain.AgentSummary{
			AgentID:  rec.info.ID,
			Name:     rec.info.Name,
			IsOnline: rec.online,
			LastSeen: rec.lastHeartbeat,
		})
	}
	b.mu.RUnlock()

	slices.SortFunc(matched, func(x, y domain.AgentSummary) int {
		return cmp.Or(cmp.Compare(x.Name, y.Name), cmp.Compare(x.AgentID, y.AgentID))
	})

	total := len(matched)
	totalPages := (total + size - 1) / size
	start := min((page-1)*size, total)
	end := min(start+size, total)
	return &domain.AgentsPage{
		Agents:          matched[start:end],
		Page:            page,
		PageSize:        size,
		TotalCount:      total,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}

// AgentStatus reports presence and the sessions assigned to the agent.
func (b *Backend) AgentStatus(agentID string) (*domain.AgentStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	status := &domain.AgentStatus{
		AgentID:         rec.info.ID,
		Name:            rec.info.Name,
		Email:           rec.info.Email,
		IsOnline:        rec.online,
		LastHeartbeat:   rec.lastHeartbeat,
		AssignedTickets: []domain.AssignedTicket{},
	}
	for _, s := range b.sessions {
		if s.AgentID != agentID || s.Status == sessionClosed {
			continue
		}
		status.AssignedTickets = append(status.AssignedTickets, domain.AssignedTicket{
			TicketID:  s.SessionID,
			UserID:    s.UserID,
			Subject:   "Live support session",
			Status:    domain.StatusInProgress.String(),
			Priority:  domain.PriorityMedium.String(),
			CreatedAt: s.CreatedAt,
		})
	}
	slices.SortFunc(status.AssignedTickets, func(x, y domain.AssignedTicket) int {
		return x.CreatedAt.Compare(y.CreatedAt)
	})
	return status, nil
}

// SetHealth overrides the overall health status.
func (b *Backend) SetHealth(status domain.HealthStatus) {
	b.mu.Lock()
	b.health = status
	b.mu.Unlock()
}

// Health reports the overall status and a store check.
func (b *Backend) Health() *domain.HealthCheckResponse {
	start := b.clock.Now()
	b.mu.RLock()
	status := b.health
	agents, sessions := len(b.agents), len(b.sessions)
	b.mu.RUnlock()
	elapsed := b.clock.Now().Sub(start).String()

	return &domain.HealthCheckResponse{
		Status:        status,
		TotalDuration: elapsed,
		Results: map[string]domain.HealthCheckEntry{
			"store": {
				Status:      status,
				Description: "in-memory store",
				Data:        map[string]any{"agents": agents, "sessions": sessions},
				Duration:    elapsed,
			},
		},
	}
}
