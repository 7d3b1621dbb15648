// Package session holds the console's process-wide session: who is logged in,
// under which role, and which menus that role sees.
//
// All mutations go through Manager. Every transition is broadcast to
// subscribers synchronously and in order before the mutating call returns.
// Network calls run outside the state lock; their results are applied only
// when the session generation they were issued under is still current.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caridad-org/console/internal/backend"
	"github.com/caridad-org/console/internal/rbac"
	"github.com/caridad-org/console/internal/shared"
	"github.com/caridad-org/console/internal/tokenstore"
)

// Backend is the subset of the REST API the session needs.
type Backend interface {
	Login(ctx context.Context, username, password string) (backend.LoginResponse, error)
	MenusByRole(ctx context.Context, roleID int64) ([]rbac.Menu, error)
}

// TransitionObserver records transitions, typically as metrics.
type TransitionObserver interface {
	ObserveTransition(transition string)
}

// Options configures optional Manager collaborators.
type Options struct {
	Logger   *slog.Logger
	Observer TransitionObserver
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// Manager is the single source of truth for the console session.
type Manager struct {
	backend  Backend
	tokens   tokenstore.Store
	logger   *slog.Logger
	observer TransitionObserver
	now      func() time.Time

	mu         sync.Mutex
	identity   *Identity
	role       *rbac.Role
	menus      []rbac.Menu
	generation uint64
	selection  uint64
	// logins counts login attempts so only the latest one is applied.
	logins uint64

	// seq and pending are guarded by mu. Events are numbered and queued
	// while the transition is applied; deliverMu serializes draining so
	// subscribers see them in seq order without mu held.
	seq       uint64
	pending   []Event
	deliverMu sync.Mutex

	subsMu  sync.Mutex
	subs    []subscriber
	nextSub uint64
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// NewManager constructs an empty Manager.
func NewManager(api Backend, tokens tokenstore.Store, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		backend:  api,
		tokens:   tokens,
		logger:   logger,
		observer: opts.Observer,
		now:      now,
	}
}

// Subscribe registers fn for every future transition. fn runs synchronously on
// a goroutine performing a transition; it may read the session but must not
// call mutating Manager methods. The returned function removes the subscription.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.subsMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			defer m.subsMu.Unlock()
			for i, sub := range m.subs {
				if sub.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Login authenticates against the backend. With exactly one role the role is
// activated and its menus loaded before Login returns; with several roles the
// caller must follow up with SelectRole.
//
// Nothing is stored until the login completes: the new token is pinned to
// the menus request through its context, and a login that fails at any step
// leaves the current session and its stored token as they were.
func (m *Manager) Login(ctx context.Context, username, password string) (Result, error) {
	m.mu.Lock()
	m.logins++
	attempt, generation := m.logins, m.generation
	m.mu.Unlock()

	resp, err := m.backend.Login(ctx, username, password)
	if err != nil {
		m.logger.Info("session login failed", slog.String("login", username), slog.Any("error", err))
		return Result{}, err
	}

	identity := &Identity{
		Login:     username,
		Token:     tokenstore.Normalize(resp.Token),
		Roles:     resp.Roles,
		SessionID: uuid.NewString(),
	}
	if claims, ok := readClaims(identity.Token); ok {
		identity.ExpiresAt = claims.ExpiresAt
	}

	var (
		role  *rbac.Role
		menus []rbac.Menu
	)
	if len(identity.Roles) == 1 {
		only := identity.Roles[0]
		menus, err = m.backend.MenusByRole(tokenstore.ContextWithToken(ctx, identity.Token), only.ID)
		if err != nil {
			m.logger.Warn("session login menus", slog.String("login", username), slog.Int64("role_id", only.ID), slog.Any("error", err))
			if shared.IsAuthorization(err) {
				return Result{}, fmt.Errorf("%w: %w", shared.ErrAuthentication, err)
			}
			return Result{}, err
		}
		role = &only
	}

	m.mu.Lock()
	if m.generation != generation || m.logins != attempt {
		m.mu.Unlock()
		return Result{}, shared.ErrStaleResult
	}
	if err := m.tokens.Set(ctx, identity.Token); err != nil {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("session: store token: %w", err)
	}
	m.generation++
	m.selection++
	m.identity = identity
	m.role = role
	m.menus = menus
	notice := shared.NoticeWelcome
	if role == nil {
		notice = shared.NoticeChooseRole
	}
	snap := m.deliverLocked(TransitionLogin, notice)

	m.logger.Info("session login",
		slog.String("login", identity.Login),
		slog.String("session_id", identity.SessionID),
		slog.Int("roles", len(identity.Roles)),
	)
	return Result{Snapshot: snap, NeedsRoleSelection: role == nil, Message: resp.Message}, nil
}

// SelectRole activates roleID, which must be one of the identity's roles.
// Menus are replaced wholesale with the backend's list for that role.
func (m *Manager) SelectRole(ctx context.Context, roleID int64) (Snapshot, error) {
	m.mu.Lock()
	if m.identity == nil {
		m.mu.Unlock()
		return Snapshot{}, shared.ErrNotLoggedIn
	}
	role, ok := rbac.HasRole(m.identity.Roles, roleID)
	if !ok {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: role %d", shared.ErrInvalidRoleSelection, roleID)
	}
	m.selection++
	generation, selection := m.generation, m.selection
	m.mu.Unlock()

	menus, err := m.backend.MenusByRole(ctx, roleID)
	if err != nil {
		m.logger.Warn("session select role menus", slog.Int64("role_id", roleID), slog.Any("error", err))
		return Snapshot{}, err
	}

	m.mu.Lock()
	if m.generation != generation || m.selection != selection {
		m.mu.Unlock()
		return Snapshot{}, shared.ErrStaleResult
	}
	m.role = &role
	m.menus = menus
	snap := m.deliverLocked(TransitionRoleSelected, shared.Notice{
		Kind:    shared.NoticeInfo,
		Message: "Rol activo: " + role.Name,
	})
	m.logger.Info("session role selected", slog.String("role", role.Name), slog.Int("menus", len(menus)))
	return snap, nil
}

// Logout clears identity, role, menus and the stored token. Calling it on an
// empty session broadcasts nothing.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	_, err := m.teardownLocked(ctx, TransitionLogout, shared.NoticeLoggedOut)
	return err
}

// Expire tears the session down after the backend rejected a token issued
// under generation, and reports whether a live session was ended.
// Rejections from an older generation are ignored so a late 401 cannot end a
// newer session.
func (m *Manager) Expire(ctx context.Context, generation uint64) (bool, error) {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		return false, nil
	}
	return m.teardownLocked(ctx, TransitionExpired, shared.NoticeSessionExpired)
}

// teardownLocked is entered with mu held and releases it. It reports whether
// an identity was active.
func (m *Manager) teardownLocked(ctx context.Context, transition Transition, notice shared.Notice) (bool, error) {
	m.generation++
	m.selection++
	wasActive := m.identity != nil
	login := ""
	if wasActive {
		login = m.identity.Login
	}
	m.identity = nil
	m.role = nil
	m.menus = nil
	clearErr := m.tokens.Clear(ctx)
	if !wasActive {
		m.mu.Unlock()
		return false, clearErr
	}
	m.deliverLocked(transition, notice)
	m.logger.Info("session ended", slog.String("login", login), slog.String("reason", string(transition)))
	if clearErr != nil {
		m.logger.Error("session clear token", slog.Any("error", clearErr))
		return true, fmt.Errorf("session: clear token: %w", clearErr)
	}
	return true, nil
}

// Restore rebuilds the session from a token that survived a restart. Only
// JWTs whose claims name the login and carry role IDs can be restored.
// Expired tokens are cleared.
func (m *Manager) Restore(ctx context.Context) error {
	token, err := m.tokens.Get(ctx)
	if err != nil {
		return fmt.Errorf("session: read token: %w", err)
	}
	if token == "" {
		return nil
	}
	claims, ok := readClaims(token)
	if !ok {
		m.logger.Info("session restore skipped: opaque token")
		return nil
	}
	if !claims.ExpiresAt.IsZero() && !m.now().Before(claims.ExpiresAt) {
		m.logger.Info("session restore: token expired", slog.Time("expires_at", claims.ExpiresAt))
		return m.tokens.Clear(ctx)
	}
	if claims.Login == "" || len(claims.Roles) == 0 {
		m.logger.Info("session restore skipped: token lacks identity claims")
		return nil
	}

	m.mu.Lock()
	if m.identity != nil {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	issued := m.generation
	m.mu.Unlock()

	identity := &Identity{
		Login:     claims.Login,
		Token:     token,
		Roles:     claims.Roles,
		SessionID: uuid.NewString(),
		ExpiresAt: claims.ExpiresAt,
	}
	var (
		role  *rbac.Role
		menus []rbac.Menu
	)
	if len(identity.Roles) == 1 {
		only := identity.Roles[0]
		menus, err = m.backend.MenusByRole(ctx, only.ID)
		if err != nil {
			if shared.IsAuthorization(err) {
				return nil
			}
			return err
		}
		role = &only
	}

	m.mu.Lock()
	if m.generation != issued {
		m.mu.Unlock()
		return shared.ErrStaleResult
	}
	m.identity = identity
	m.role = role
	m.menus = menus
	notice := shared.NoticeWelcome
	if role == nil {
		notice = shared.NoticeChooseRole
	}
	m.deliverLocked(TransitionRestored, notice)
	m.logger.Info("session restored", slog.String("login", identity.Login))
	return nil
}

// deliverLocked is entered with mu held. It numbers and queues the event,
// releases mu and returns once the event has reached every subscriber.
// Subscribers run without mu held and may read the session.
func (m *Manager) deliverLocked(transition Transition, notice shared.Notice) Snapshot {
	m.seq++
	snap := m.snapshotLocked()
	m.pending = append(m.pending, Event{Seq: m.seq, Transition: transition, Snapshot: snap, Notice: notice})
	m.mu.Unlock()
	m.drain()
	return snap
}

// drain delivers queued events in order. Whoever holds deliverMu delivers
// every event queued so far, including those of concurrent transitions.
func (m *Manager) drain() {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.pending = nil
			m.mu.Unlock()
			return
		}
		event := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.subsMu.Lock()
		subs := append([]subscriber(nil), m.subs...)
		m.subsMu.Unlock()
		for _, sub := range subs {
			sub.fn(event)
		}
		if m.observer != nil {
			m.observer.ObserveTransition(string(event.Transition))
		}
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		Identity:   m.identity.clone(),
		Menus:      append([]rbac.Menu(nil), m.menus...),
		Generation: m.generation,
		Seq:        m.seq,
		At:         m.now(),
	}
	if m.role != nil {
		role := *m.role
		snap.Role = &role
	}
	return snap
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// CurrentSubject implements rbac.SubjectSource.
func (m *Manager) CurrentSubject() rbac.Subject {
	return m.Snapshot()
}

// CurrentUser returns the logged-in identity or nil.
func (m *Manager) CurrentUser() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity.clone()
}

// CurrentRole returns the active role or nil.
func (m *Manager) CurrentRole() *rbac.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.role == nil {
		return nil
	}
	role := *m.role
	return &role
}

// CurrentMenus returns the menus of the active role.
func (m *Manager) CurrentMenus() []rbac.Menu {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rbac.Menu(nil), m.menus...)
}

// IsAuthenticated reports whether a non-expired identity is present.
func (m *Manager) IsAuthenticated() bool {
	return m.Snapshot().IsAuthenticated()
}

// Generation returns the current session generation. Requests record it when
// issued so a rejection can be matched to the session it belongs to.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}
