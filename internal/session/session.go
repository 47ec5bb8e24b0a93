package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hbruning/xgw/internal/bus"
	"github.com/hbruning/xgw/internal/config"
	"github.com/hbruning/xgw/internal/correl"
	"github.com/hbruning/xgw/internal/idmap"
	"github.com/hbruning/xgw/internal/legacy"
	"github.com/hbruning/xgw/internal/store"
	"github.com/hbruning/xgw/internal/xmpp"
	"go.uber.org/zap"
)

// BlobStore stores binary payloads and returns a stable URL for each.
// The attachment server is the production implementation.
type BlobStore interface {
	Store(data []byte, name, mime string) (url string, err error)
}

// eventQueueSize bounds the legacy event queue. The adapter's callback
// blocks once the session loop falls this far behind, which applies
// backpressure without reordering or dropping events.
const eventQueueSize = 512

// Session owns one user's legacy-network connection and translates
// events in both directions. Inbound legacy events are serialized
// through a single queue drained by the session's own goroutine, so
// per-session delivery order is preserved no matter which goroutine the
// adapter calls from.
type Session struct {
	user     store.User
	userAddr xmpp.Address

	cfg     *config.Config
	db      *store.DB
	bus     *bus.Bus
	emitter xmpp.Emitter
	adapter legacy.Adapter
	blobs   BlobStore
	logger  *zap.Logger

	machine  *Machine
	mapper   *idmap.Mapper
	correl   *correl.Engine
	contacts *Contacts
	groups   *Groups

	events chan legacy.Event
	done   chan struct{}

	connected chan struct{}
	connOnce  sync.Once
	loginFail chan *legacy.LoginError
	termOnce  sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// selfID is the user's own id on the legacy network, learned at
	// pairing or connect time. Used to notice the user leaving groups.
	mu     sync.Mutex
	selfID string
}

// New creates a session for a registered user. Start must be called
// before the session handles any traffic.
func New(user store.User, cfg *config.Config, db *store.DB, b *bus.Bus, emitter xmpp.Emitter, adapter legacy.Adapter, blobs BlobStore, logger *zap.Logger) (*Session, error) {
	userAddr, err := xmpp.ParseAddress(user.JID)
	if err != nil {
		return nil, fmt.Errorf("user address: %w", err)
	}
	s := &Session{
		user:      user,
		userAddr:  userAddr,
		cfg:       cfg,
		db:        db,
		bus:       b,
		emitter:   emitter,
		adapter:   adapter,
		blobs:     blobs,
		logger:    logger.With(zap.String("user", user.JID)),
		events:    make(chan legacy.Event, eventQueueSize),
		done:      make(chan struct{}),
		connected: make(chan struct{}),
		loginFail: make(chan *legacy.LoginError, 1),
	}
	s.machine = NewMachine(user.JID, b)
	s.mapper = idmap.New(db, user.JID, s.logger)
	s.correl = correl.New(db, user.JID)
	s.contacts = newContacts(s)
	s.groups = newGroups(s)
	if err := s.groups.rehydrate(); err != nil {
		return nil, fmt.Errorf("rehydrate groups for %s: %w", user.JID, err)
	}
	return s, nil
}

// State returns the session's current connection state.
func (s *Session) State() State {
	return s.machine.Current()
}

// User returns the owning user's bare address.
func (s *Session) User() string {
	return s.user.JID
}

// Start establishes the legacy connection and blocks until the adapter
// reports readiness, a login failure, or the login timeout elapses.
// Pairing flows emit QR codes to the user while Start waits.
func (s *Session) Start(ctx context.Context) error {
	if s.machine.Current() != Unauthenticated {
		return fmt.Errorf("session for %s already started", s.user.JID)
	}
	s.adapter.SetEventHandler(s.HandleLegacyEvent)
	if err := s.machine.Transition(Authenticating); err != nil {
		return err
	}
	_ = s.db.SetUserState(s.user.JID, store.UserConnecting)

	s.wg.Add(1)
	go s.loop()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LoginTimeoutD())
	defer cancel()

	if err := s.adapter.Connect(ctx); err != nil {
		_ = s.machine.Transition(Disconnected)
		_ = s.db.SetUserState(s.user.JID, store.UserErrored)
		var le *legacy.LoginError
		if errors.As(err, &le) {
			s.notifyLoginFailure(le)
			return err
		}
		return &legacy.LoginError{Kind: legacy.NetworkUnavailable, Cause: err}
	}

	select {
	case <-s.connected:
		return nil
	case le := <-s.loginFail:
		s.notifyLoginFailure(le)
		return le
	case <-ctx.Done():
		// Handshake stalled: park in Disconnected rather than hang.
		_ = s.machine.Transition(Disconnected)
		_ = s.db.SetUserState(s.user.JID, store.UserDisconnected)
		s.adapter.Disconnect()
		return &legacy.LoginError{Kind: legacy.NetworkUnavailable, Cause: ctx.Err()}
	case <-s.done:
		return fmt.Errorf("session for %s stopped during login", s.user.JID)
	}
}

// Stop gracefully tears the session down. Idempotent: calling it twice
// is a no-op.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.terminate()
		s.wg.Wait()
		// Mirror teardown to the user's client: every known contact
		// goes offline.
		for _, c := range s.contacts.All() {
			s.emit(xmpp.Stanza{
				Kind: xmpp.KindPresence,
				From: c.Address(),
				To:   s.userAddr,
				Show: xmpp.ShowUnavailable,
			})
		}
		if s.user.State != store.UserUnregistered {
			// An errored marker (logout, bad credentials) outlives the
			// shutdown so the next rehydration can surface it.
			if u, err := s.db.GetUser(s.user.JID); err != nil || u.State != store.UserErrored {
				_ = s.db.SetUserState(s.user.JID, store.UserDisconnected)
			}
		}
		s.logger.Info("session stopped")
	})
}

// terminate flips the machine to Terminated and stops the loop without
// waiting, so it is safe to call from the loop itself.
func (s *Session) terminate() {
	s.termOnce.Do(func() {
		_ = s.machine.Transition(Terminated)
		s.adapter.Disconnect()
		close(s.done)
	})
}

// HandleLegacyEvent is the adapter's callback. Safe to invoke from any
// goroutine; it only enqueues, the session loop does the work.
func (s *Session) HandleLegacyEvent(evt legacy.Event) {
	select {
	case s.events <- evt:
	case <-s.done:
	}
}

func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case evt := <-s.events:
			s.dispatch(evt)
		case <-s.done:
			return
		}
	}
}

// emit hands an outbound stanza to the XMPP layer.
func (s *Session) emit(st xmpp.Stanza) {
	if st.ID == "" {
		st.ID = xmpp.NewID()
	}
	s.emitter.Emit(st)
}

// componentAddr is the gateway's own address, used for system messages.
func (s *Session) componentAddr() xmpp.Address {
	return xmpp.Address{Domain: s.cfg.ComponentDomain}
}

// systemMessage sends a gateway-originated chat message to the user.
func (s *Session) systemMessage(body string) {
	s.emit(xmpp.Stanza{
		Kind:      xmpp.KindMessage,
		From:      s.componentAddr(),
		To:        s.userAddr,
		Body:      body,
		Timestamp: time.Now(),
	})
}

func (s *Session) notifyLoginFailure(le *legacy.LoginError) {
	// Category only: raw legacy error text can leak credentials.
	var body string
	switch le.Kind {
	case legacy.BadCredentials:
		body = "Login failed: the legacy network rejected your credentials. Re-register to update them."
	case legacy.NeedsReauth:
		body = "Login failed: the legacy network requires re-authentication. Re-register to pair again."
	default:
		body = "Login failed: the legacy network is unreachable. The gateway will keep trying."
	}
	s.systemMessage(body)
}

// reconnectLoop retries the legacy connection with bounded exponential
// backoff until it succeeds or the session is stopped. Readiness is
// signalled by the adapter's Connected event, not by Connect returning.
func (s *Session) reconnectLoop() {
	defer s.wg.Done()
	backoff := s.cfg.ReconnectFloorD()
	ceiling := s.cfg.ReconnectCeilingD()
	for attempt := 1; ; attempt++ {
		select {
		case <-s.done:
			return
		case <-time.After(backoff):
		}
		if s.machine.Current() != Reconnecting {
			return
		}
		s.logger.Info("reconnecting to legacy network",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LoginTimeoutD())
		err := s.adapter.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		s.logger.Warn("reconnect attempt failed", zap.Error(err))
		backoff *= 2
		if backoff > ceiling {
			backoff = ceiling
		}
	}
}
