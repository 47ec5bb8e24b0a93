package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hbruning/xgw/internal/bus"
	"github.com/hbruning/xgw/internal/config"
	"github.com/hbruning/xgw/internal/legacy"
	"github.com/hbruning/xgw/internal/store"
	"github.com/hbruning/xgw/internal/xmpp"
	"go.uber.org/zap"
)

// ErrUnknownUser is returned when a stanza arrives from an address with
// no registration. Routing drops it with a log entry; it never crashes
// the process.
var ErrUnknownUser = errors.New("session: unknown user")

// Manager is the process-wide session registry, keyed by the user's
// bare address. It is the only process-wide mutable shared state; all
// registry mutation happens under its mutex so two concurrent
// GetOrCreate calls for one user cannot create two sessions.
type Manager struct {
	cfg     *config.Config
	db      *store.DB
	bus     *bus.Bus
	emitter xmpp.Emitter
	factory legacy.Factory
	blobs   BlobStore
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates the registry. factory constructs the legacy
// adapter for each new session; blobs may be nil when no attachment
// server is configured.
func NewManager(cfg *config.Config, db *store.DB, b *bus.Bus, emitter xmpp.Emitter, factory legacy.Factory, blobs BlobStore, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		db:       db,
		bus:      b,
		emitter:  emitter,
		factory:  factory,
		blobs:    blobs,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the live session for a user, creating it (and
// its adapter) if none exists. Idempotent: concurrent calls for one
// user yield the same session.
func (m *Manager) GetOrCreate(ctx context.Context, user store.User) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[user.JID]; ok && s.State() != Terminated {
		return s, nil
	}

	adapter, err := m.factory(ctx, legacy.Account{
		UserBare:     user.JID,
		Registration: user.Registration,
		DataDir:      m.cfg.AdapterDir(user.JID),
	}, m.logger)
	if err != nil {
		return nil, fmt.Errorf("create adapter for %s: %w", user.JID, err)
	}

	s, err := New(user, m.cfg, m.db, m.bus, m.emitter, adapter, m.blobs, m.logger)
	if err != nil {
		return nil, err
	}
	m.sessions[user.JID] = s
	return s, nil
}

// Get returns the live session for a bare address, if any.
func (m *Manager) Get(bare string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[bare]
	return s, ok
}

// Remove stops a user's session and evicts it from the registry.
func (m *Manager) Remove(bare string) {
	m.mu.Lock()
	s, ok := m.sessions[bare]
	delete(m.sessions, bare)
	m.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// RouteInbound resolves an inbound stanza to the owning session by
// sender bare address. Commands addressed to the component itself are
// handled by the manager (registration surface).
func (m *Manager) RouteInbound(ctx context.Context, st xmpp.Stanza) error {
	if st.Kind == xmpp.KindCommand && st.To.Local == "" {
		return m.handleCommand(ctx, st)
	}

	s, ok := m.Get(st.From.String())
	if !ok {
		m.logger.Info("stanza from unregistered address dropped",
			zap.String("from", st.From.String()),
			zap.String("kind", string(st.Kind)))
		return fmt.Errorf("%w: %s", ErrUnknownUser, st.From.String())
	}
	return s.handleStanza(ctx, st)
}

// Rehydrate creates one session per persisted user and starts each,
// tolerating individual failures: a user whose login fails stays
// parked rather than aborting startup for everyone.
func (m *Manager) Rehydrate(ctx context.Context) error {
	users, err := m.db.ListUsers()
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, user := range users {
		s, err := m.GetOrCreate(ctx, user)
		if err != nil {
			m.logger.Error("rehydrate session failed", zap.String("user", user.JID), zap.Error(err))
			continue
		}
		go func(s *Session) {
			if err := s.Start(ctx); err != nil {
				m.logger.Warn("session login failed at startup",
					zap.String("user", s.User()), zap.Error(err))
			}
		}(s)
	}
	m.logger.Info("rehydration started", zap.Int("users", len(users)))
	return nil
}

// StopAll stops every session, used at process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Stop()
	}
}

// handleCommand serves the in-band registration surface.
func (m *Manager) handleCommand(ctx context.Context, st xmpp.Stanza) error {
	switch st.Command {
	case "register":
		return m.Register(ctx, st)
	case "unregister":
		return m.Unregister(ctx, st)
	default:
		m.emitter.Emit(xmpp.Stanza{
			Kind:           xmpp.KindError,
			ID:             st.ID,
			From:           st.To,
			To:             st.From,
			ErrorCondition: "item-not-found",
			ErrorText:      fmt.Sprintf("unknown command %q", st.Command),
		})
		return fmt.Errorf("unknown command %q", st.Command)
	}
}

// Register creates the user record and starts its session. The
// registration form is persisted as an opaque blob for the adapter.
func (m *Manager) Register(ctx context.Context, st xmpp.Stanza) error {
	user := store.User{
		JID:          st.From.String(),
		Registration: encodeForm(st.Form),
		State:        store.UserConnecting,
	}
	if err := m.db.CreateUser(&user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			m.emitter.Emit(xmpp.Stanza{
				Kind:           xmpp.KindError,
				ID:             st.ID,
				From:           st.To,
				To:             st.From,
				ErrorCondition: "conflict",
				ErrorText:      "already registered",
			})
			return err
		}
		return fmt.Errorf("persist registration: %w", err)
	}

	s, err := m.GetOrCreate(ctx, user)
	if err != nil {
		_ = m.db.DeleteUser(user.JID)
		return err
	}
	go func() {
		if err := s.Start(context.Background()); err != nil {
			m.logger.Warn("login after registration failed",
				zap.String("user", user.JID), zap.Error(err))
		}
	}()

	m.notifyAdmins(fmt.Sprintf("user %s registered", user.JID))
	m.bus.Publish(bus.Event{Kind: "gateway.registered", User: user.JID, Timestamp: time.Now()})
	return nil
}

// Unregister stops the session and removes the user; owned records
// cascade away with the user row.
func (m *Manager) Unregister(_ context.Context, st xmpp.Stanza) error {
	bare := st.From.String()
	if _, err := m.db.GetUser(bare); errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownUser, bare)
	} else if err != nil {
		return err
	}
	m.Remove(bare)
	if err := m.db.DeleteUser(bare); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	m.notifyAdmins(fmt.Sprintf("user %s unregistered", bare))
	m.bus.Publish(bus.Event{Kind: "gateway.unregistered", User: bare, Timestamp: time.Now()})
	return nil
}

func (m *Manager) notifyAdmins(body string) {
	for _, admin := range m.cfg.Admins {
		to, err := xmpp.ParseAddress(admin)
		if err != nil {
			continue
		}
		m.emitter.Emit(xmpp.Stanza{
			Kind:      xmpp.KindMessage,
			ID:        xmpp.NewID(),
			From:      xmpp.Address{Domain: m.cfg.ComponentDomain},
			To:        to,
			Body:      body,
			Timestamp: time.Now(),
		})
	}
}

// encodeForm flattens the registration form into the opaque blob the
// adapter receives. json.Marshal sorts map keys, so repeated
// registrations with identical forms produce identical blobs.
func encodeForm(form map[string]string) string {
	if len(form) == 0 {
		return "{}"
	}
	b, err := json.Marshal(form)
	if err != nil {
		return "{}"
	}
	return string(b)
}
