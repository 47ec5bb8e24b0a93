package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hbruning/xgw/internal/bus"
	"github.com/hbruning/xgw/internal/config"
	"github.com/hbruning/xgw/internal/correl"
	"github.com/hbruning/xgw/internal/legacy"
	"github.com/hbruning/xgw/internal/store"
	"github.com/hbruning/xgw/internal/xmpp"
	"go.uber.org/zap"
)

// fakeAdapter is an in-memory legacy adapter. Connect reports
// Connected through the event handler unless told to fail or stay
// silent, and Send hands out sequential legacy ids.
type fakeAdapter struct {
	mu            sync.Mutex
	handler       func(legacy.Event)
	connectErr    error
	failRemaining int
	silent        bool
	connectCalls  int
	disconnects   int
	sent          []legacy.Outgoing
	sendErr       error
	nextID        int
	receipts      [][]string
	chatStates    []bool
}

func (a *fakeAdapter) SetEventHandler(h func(legacy.Event)) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

func (a *fakeAdapter) Connect(_ context.Context) error {
	a.mu.Lock()
	a.connectCalls++
	if a.connectErr != nil {
		err := a.connectErr
		a.mu.Unlock()
		return err
	}
	if a.failRemaining > 0 {
		a.failRemaining--
		a.mu.Unlock()
		return errors.New("dial legacy network: connection refused")
	}
	h := a.handler
	silent := a.silent
	a.mu.Unlock()
	if !silent && h != nil {
		h(legacy.Connected{})
	}
	return nil
}

func (a *fakeAdapter) Disconnect() {
	a.mu.Lock()
	a.disconnects++
	a.mu.Unlock()
}

func (a *fakeAdapter) Logout(context.Context) error { return nil }

func (a *fakeAdapter) IsAuthenticated() bool { return true }

func (a *fakeAdapter) Send(_ context.Context, out legacy.Outgoing) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return "", a.sendErr
	}
	a.nextID++
	a.sent = append(a.sent, out)
	return fmt.Sprintf("L%d", a.nextID), nil
}

func (a *fakeAdapter) SendReceipt(_ context.Context, _ string, _ bool, messageIDs []string, _ bool) error {
	a.mu.Lock()
	a.receipts = append(a.receipts, messageIDs)
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) SendChatState(_ context.Context, _ string, _ bool, composing bool) error {
	a.mu.Lock()
	a.chatStates = append(a.chatStates, composing)
	a.mu.Unlock()
	return nil
}

// push delivers an event as if the legacy network produced it.
func (a *fakeAdapter) push(evt legacy.Event) {
	a.mu.Lock()
	h := a.handler
	a.mu.Unlock()
	h(evt)
}

func (a *fakeAdapter) sentMessages() []legacy.Outgoing {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]legacy.Outgoing(nil), a.sent...)
}

// recordingEmitter captures stanzas the session hands to the XMPP layer.
type recordingEmitter struct {
	ch chan xmpp.Stanza
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{ch: make(chan xmpp.Stanza, 256)}
}

func (e *recordingEmitter) Emit(st xmpp.Stanza) {
	e.ch <- st
}

// waitKind returns the next emitted stanza of the wanted kind, skipping
// others; stanzas of one session arrive in deterministic order.
func (e *recordingEmitter) waitKind(t *testing.T, kind xmpp.Kind) xmpp.Stanza {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-e.ch:
			if st.Kind == kind {
				return st
			}
		case <-deadline:
			t.Fatalf("no %s stanza emitted", kind)
		}
	}
}

func testSessionStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.CreateUser(&store.User{JID: "alice@example.org", Registration: "{}", State: store.UserConnecting}); err != nil {
		t.Fatal(err)
	}
	return db
}

// sessionOver builds a session for alice against an existing store, so
// a test can simulate a gateway restart by building a second one.
func sessionOver(t *testing.T, adapter legacy.Adapter, db *store.DB) (*Session, *recordingEmitter) {
	t.Helper()
	cfg := config.Default()
	cfg.ComponentDomain = "legacy.example.org"
	cfg.DataDir = t.TempDir()
	cfg.LoginTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.ReconnectFloor = config.Duration{Duration: 5 * time.Millisecond}
	cfg.ReconnectCeiling = config.Duration{Duration: 20 * time.Millisecond}

	user := store.User{JID: "alice@example.org", Registration: "{}", State: store.UserConnecting}
	em := newRecordingEmitter()
	s, err := New(user, cfg, db, bus.New(), em, adapter, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s, em
}

func testSession(t *testing.T, adapter legacy.Adapter) (*Session, *recordingEmitter, *store.DB) {
	t.Helper()
	db := testSessionStore(t)
	s, em := sessionOver(t, adapter, db)
	return s, em, db
}

func startReady(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.State(); got != Ready {
		t.Fatalf("state after Start = %s, want READY", got)
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

func TestStartReachesReady(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, db := testSession(t, adapter)
	startReady(t, s)

	// The gateway announces itself available once connected.
	p := em.waitKind(t, xmpp.KindPresence)
	if p.From.Local != "" || p.From.Domain != "legacy.example.org" {
		t.Errorf("presence from %s, want component address", p.From)
	}
	if p.Show != xmpp.ShowAvailable {
		t.Errorf("show = %q, want available", p.Show)
	}

	u, err := db.GetUser("alice@example.org")
	if err != nil {
		t.Fatal(err)
	}
	if u.State != store.UserConnected {
		t.Errorf("persisted state = %q, want connected", u.State)
	}
}

func TestStartLoginTimeout(t *testing.T) {
	adapter := &fakeAdapter{silent: true}
	s, _, _ := testSession(t, adapter)
	s.cfg.LoginTimeout = config.Duration{Duration: 30 * time.Millisecond}

	err := s.Start(context.Background())
	var le *legacy.LoginError
	if !errors.As(err, &le) || le.Kind != legacy.NetworkUnavailable {
		t.Fatalf("Start = %v, want network_unavailable login error", err)
	}
	if got := s.State(); got != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", got)
	}
}

func TestStartBadCredentials(t *testing.T) {
	adapter := &fakeAdapter{connectErr: &legacy.LoginError{Kind: legacy.BadCredentials}}
	s, em, db := testSession(t, adapter)

	err := s.Start(context.Background())
	var le *legacy.LoginError
	if !errors.As(err, &le) || le.Kind != legacy.BadCredentials {
		t.Fatalf("Start = %v, want bad_credentials login error", err)
	}
	if got := s.State(); got != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", got)
	}

	u, _ := db.GetUser("alice@example.org")
	if u.State != store.UserErrored {
		t.Errorf("persisted state = %q, want errored", u.State)
	}

	// The user is told the category, never the raw legacy error.
	msg := em.waitKind(t, xmpp.KindMessage)
	if !strings.Contains(msg.Body, "credentials") {
		t.Errorf("failure notice = %q", msg.Body)
	}
}

func TestInboundMessageCreatesContactLazily(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, _ := testSession(t, adapter)
	startReady(t, s)

	adapter.push(legacy.Message{
		ID:         "w1",
		ChatID:     "+15551234567",
		SenderID:   "+15551234567",
		SenderNick: "Bob",
		Body:       "hello",
		Timestamp:  time.Now(),
	})

	msg := em.waitKind(t, xmpp.KindMessage)
	if msg.From.Local != "%2b15551234567" {
		t.Errorf("from local = %q, want escaped phone number", msg.From.Local)
	}
	if msg.From.Domain != "legacy.example.org" {
		t.Errorf("from domain = %q", msg.From.Domain)
	}
	if msg.Body != "hello" || msg.ID == "" {
		t.Errorf("message = %+v", msg)
	}
}

func TestSendCorrelatesAndReceiptResolves(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, _ := testSession(t, adapter)
	startReady(t, s)

	st := xmpp.Stanza{
		Kind: xmpp.KindMessage,
		ID:   "x1",
		From: xmpp.Address{Local: "alice", Domain: "example.org"},
		To:   xmpp.Address{Local: "bob", Domain: "legacy.example.org"},
		Body: "hi bob",
	}
	if err := s.handleStanza(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	sent := adapter.sentMessages()
	if len(sent) != 1 || sent[0].TargetID != "bob" || sent[0].Text != "hi bob" {
		t.Fatalf("adapter sent %+v", sent)
	}

	// A read receipt for the legacy id must resolve to the XMPP id the
	// client used, with no new message synthesized.
	adapter.push(legacy.Receipt{
		ChatID:     "bob",
		MessageIDs: []string{"L1"},
		Kind:       legacy.ReceiptRead,
		Timestamp:  time.Now(),
	})
	r := em.waitKind(t, xmpp.KindReceipt)
	if len(r.ReceiptFor) != 1 || r.ReceiptFor[0] != "x1" {
		t.Errorf("receipt for %v, want [x1]", r.ReceiptFor)
	}
	if !r.Read {
		t.Error("read flag lost")
	}
	if r.From.Local != "bob" {
		t.Errorf("receipt from %q", r.From.Local)
	}
}

func TestEchoOfOwnSendIsDropped(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, _ := testSession(t, adapter)
	startReady(t, s)

	st := xmpp.Stanza{
		Kind: xmpp.KindMessage,
		ID:   "x1",
		From: xmpp.Address{Local: "alice", Domain: "example.org"},
		To:   xmpp.Address{Local: "bob", Domain: "legacy.example.org"},
		Body: "hi bob",
	}
	if err := s.handleStanza(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	// The network reflects our own message back, then delivers a real one.
	adapter.push(legacy.Message{ID: "L1", ChatID: "bob", SenderID: "alice-self", FromMe: true, Body: "hi bob", Timestamp: time.Now()})
	adapter.push(legacy.Message{ID: "w2", ChatID: "bob", SenderID: "bob", Body: "marker", Timestamp: time.Now()})

	msg := em.waitKind(t, xmpp.KindMessage)
	if msg.Body != "marker" {
		t.Errorf("first emitted message %q, echo was not dropped", msg.Body)
	}
}

func TestDuplicateInboundDropped(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, _ := testSession(t, adapter)
	startReady(t, s)

	evt := legacy.Message{ID: "w1", ChatID: "bob", SenderID: "bob", Body: "once", Timestamp: time.Now()}
	adapter.push(evt)
	adapter.push(evt)
	adapter.push(legacy.Message{ID: "w2", ChatID: "bob", SenderID: "bob", Body: "marker", Timestamp: time.Now()})

	if msg := em.waitKind(t, xmpp.KindMessage); msg.Body != "once" {
		t.Fatalf("first message %q", msg.Body)
	}
	if msg := em.waitKind(t, xmpp.KindMessage); msg.Body != "marker" {
		t.Errorf("second message %q, duplicate was not dropped", msg.Body)
	}
}

func TestCarbonForMessageSentElsewhere(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, _ := testSession(t, adapter)
	startReady(t, s)

	// FromMe with no correlation: the user sent this from another
	// device, so it is forwarded as their own message.
	adapter.push(legacy.Message{ID: "w1", ChatID: "bob", FromMe: true, Body: "from my phone", Timestamp: time.Now()})

	msg := em.waitKind(t, xmpp.KindMessage)
	if !msg.Carbon {
		t.Error("carbon flag not set")
	}
	if msg.From.Local != "bob" || msg.Body != "from my phone" {
		t.Errorf("carbon = %+v", msg)
	}
}

func TestUnknownTargetEmitsError(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, _ := testSession(t, adapter)
	startReady(t, s)

	st := xmpp.Stanza{
		Kind: xmpp.KindMessage,
		ID:   "x9",
		From: xmpp.Address{Local: "alice", Domain: "example.org"},
		To:   xmpp.Address{Local: "NotAMappedName", Domain: "legacy.example.org"},
		Body: "hi",
	}
	err := s.handleStanza(context.Background(), st)
	var se *legacy.SendError
	if !errors.As(err, &se) || se.Kind != legacy.UnknownTarget {
		t.Fatalf("handleStanza = %v, want unknown_target", err)
	}

	e := em.waitKind(t, xmpp.KindError)
	if e.ID != "x9" || e.ErrorCondition != "item-not-found" {
		t.Errorf("error stanza = %+v", e)
	}
	if len(adapter.sentMessages()) != 0 {
		t.Error("nothing should reach the adapter")
	}
}

func TestReceiptAndChatStateForwarding(t *testing.T) {
	adapter := &fakeAdapter{}
	s, _, _ := testSession(t, adapter)
	startReady(t, s)

	out := xmpp.Stanza{
		Kind: xmpp.KindMessage,
		ID:   "x1",
		From: xmpp.Address{Local: "alice", Domain: "example.org"},
		To:   xmpp.Address{Local: "bob", Domain: "legacy.example.org"},
		Body: "hi",
	}
	if err := s.handleStanza(context.Background(), out); err != nil {
		t.Fatal(err)
	}

	s.forwardReceipt(context.Background(), xmpp.Stanza{
		Kind:       xmpp.KindReceipt,
		To:         xmpp.Address{Local: "bob", Domain: "legacy.example.org"},
		ReceiptFor: []string{"x1"},
		Read:       true,
	})
	s.forwardChatState(context.Background(), xmpp.Stanza{
		Kind:      xmpp.KindChatState,
		To:        xmpp.Address{Local: "bob", Domain: "legacy.example.org"},
		Composing: true,
	})

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.receipts) != 1 || adapter.receipts[0][0] != "L1" {
		t.Errorf("forwarded receipts = %v, want [[L1]]", adapter.receipts)
	}
	if len(adapter.chatStates) != 1 || !adapter.chatStates[0] {
		t.Errorf("forwarded chat states = %v", adapter.chatStates)
	}
}

func TestGroupMessageArchived(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, db := testSession(t, adapter)
	startReady(t, s)

	sent := time.Now()
	adapter.push(legacy.Message{
		ID:         "w1",
		ChatID:     "g1",
		SenderID:   "bob",
		SenderNick: "Bob",
		Group:      true,
		Body:       "hello room",
		Timestamp:  sent,
	})

	msg := em.waitKind(t, xmpp.KindMessage)
	if msg.From.Local != "g1" || msg.Nick != "Bob" {
		t.Errorf("group message = %+v", msg)
	}

	rows, err := db.ArchivedBetween("alice@example.org", "g1", sent.Add(-time.Minute), sent.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Body != "hello room" {
		t.Fatalf("archive rows = %+v", rows)
	}
}

func TestGroupSubjectAndSelfLeave(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, _ := testSession(t, adapter)
	startReady(t, s)

	// PairSuccess teaches the session its own legacy id.
	adapter.push(legacy.PairSuccess{LegacyID: "alice-self"})

	adapter.push(legacy.GroupUpdate{
		GroupID:       "g1",
		Subject:       "release planning",
		SubjectSetter: "bob",
		SubjectSetAt:  time.Now(),
	})
	msg := em.waitKind(t, xmpp.KindMessage)
	for msg.Subject == "" {
		msg = em.waitKind(t, xmpp.KindMessage)
	}
	if msg.Subject != "release planning" || msg.From.Local != "g1" {
		t.Errorf("subject message = %+v", msg)
	}

	// The user leaving destroys the group entity.
	adapter.push(legacy.GroupUpdate{GroupID: "g1", Left: []string{"alice-self"}})
	p := em.waitKind(t, xmpp.KindPresence)
	for p.From.Local != "g1" {
		p = em.waitKind(t, xmpp.KindPresence)
	}
	if p.Show != xmpp.ShowUnavailable {
		t.Errorf("leave presence show = %q", p.Show)
	}
	waitFor(t, func() bool {
		_, ok := s.groups.ByLocal("g1")
		return !ok
	})
}

func TestGroupTargetsResolveAfterRestart(t *testing.T) {
	db := testSessionStore(t)
	adapter := &fakeAdapter{}
	s, em := sessionOver(t, adapter, db)
	startReady(t, s)

	// The group is learned from inbound traffic before the restart.
	adapter.push(legacy.Message{
		ID:        "w1",
		ChatID:    "g1",
		SenderID:  "bob",
		Group:     true,
		Body:      "before restart",
		Timestamp: time.Now(),
	})
	em.waitKind(t, xmpp.KindMessage)
	s.Stop()

	adapter2 := &fakeAdapter{}
	s2, em2 := sessionOver(t, adapter2, db)
	startReady(t, s2)

	// An outgoing message to the group's address must still be a group
	// send, not fall through to a contact.
	st := xmpp.Stanza{
		Kind: xmpp.KindMessage,
		ID:   "x1",
		From: xmpp.Address{Local: "alice", Domain: "example.org"},
		To:   xmpp.Address{Local: "g1", Domain: "legacy.example.org"},
		Body: "after restart",
	}
	if err := s2.handleStanza(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	sent := adapter2.sentMessages()
	if len(sent) != 1 || !sent[0].Group || sent[0].TargetID != "g1" {
		t.Fatalf("adapter sent %+v, want group send to g1", sent)
	}

	// The correlation landed in the group family, so the group receipt
	// resolves to the client's id.
	adapter2.push(legacy.Receipt{
		ChatID:     "g1",
		Group:      true,
		MessageIDs: []string{"L1"},
		Kind:       legacy.ReceiptRead,
		Timestamp:  time.Now(),
	})
	r := em2.waitKind(t, xmpp.KindReceipt)
	if len(r.ReceiptFor) != 1 || r.ReceiptFor[0] != "x1" {
		t.Errorf("receipt for %v, want [x1]", r.ReceiptFor)
	}

	rows, err := db.ArchivedBetween("alice@example.org", "g1",
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	bodies := map[string]bool{}
	for _, row := range rows {
		bodies[row.Body] = true
	}
	if len(rows) != 2 || !bodies["before restart"] || !bodies["after restart"] {
		t.Fatalf("archive rows = %+v, want both sides of the restart", rows)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestDisconnectTriggersReconnectWithBackoff(t *testing.T) {
	adapter := &fakeAdapter{}
	s, _, _ := testSession(t, adapter)
	startReady(t, s)

	adapter.mu.Lock()
	adapter.failRemaining = 2
	adapter.mu.Unlock()

	adapter.push(legacy.Disconnected{Reason: "stream closed"})

	// Initial login plus two failed retries plus the one that stuck.
	// Ready is still the state until the loop dispatches the
	// disconnect, so gate on the retry count before the state.
	waitFor(t, func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return adapter.connectCalls >= 4
	})
	waitState(t, s, Ready)

	adapter.mu.Lock()
	calls := adapter.connectCalls
	adapter.mu.Unlock()
	if calls != 4 {
		t.Errorf("connect calls = %d, want 4", calls)
	}
}

func TestStopKeepsLoggedOutMarker(t *testing.T) {
	adapter := &fakeAdapter{}
	s, _, db := testSession(t, adapter)
	startReady(t, s)

	adapter.push(legacy.LoggedOut{Reason: "device removed"})
	waitState(t, s, Terminated)

	// Shutdown after a logout must not demote the errored marker to a
	// plain disconnect; rehydration surfaces it to the user.
	s.Stop()
	u, err := db.GetUser("alice@example.org")
	if err != nil {
		t.Fatal(err)
	}
	if u.State != store.UserErrored {
		t.Errorf("user state after shutdown = %s, want %s", u.State, store.UserErrored)
	}
}

func TestLoggedOutTerminates(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, db := testSession(t, adapter)
	startReady(t, s)

	adapter.push(legacy.LoggedOut{Reason: "device removed"})
	waitState(t, s, Terminated)

	msg := em.waitKind(t, xmpp.KindMessage)
	if !strings.Contains(msg.Body, "logged") {
		t.Errorf("notice = %q", msg.Body)
	}
	u, _ := db.GetUser("alice@example.org")
	if u.State != store.UserErrored {
		t.Errorf("persisted state = %q, want errored", u.State)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, _ := testSession(t, adapter)
	startReady(t, s)

	adapter.push(legacy.Message{ID: "w1", ChatID: "bob", SenderID: "bob", Body: "hi", Timestamp: time.Now()})
	em.waitKind(t, xmpp.KindMessage)

	s.Stop()
	s.Stop()
	if got := s.State(); got != Terminated {
		t.Fatalf("state = %s, want TERMINATED", got)
	}

	// Known contacts go offline on teardown.
	p := em.waitKind(t, xmpp.KindPresence)
	for p.From.Local != "bob" {
		p = em.waitKind(t, xmpp.KindPresence)
	}
	if p.Show != xmpp.ShowUnavailable {
		t.Errorf("teardown presence show = %q", p.Show)
	}

	if _, err := s.Send(context.Background(), correl.Direct, "x9", legacy.Outgoing{TargetID: "bob"}); err == nil {
		t.Error("Send after Stop should fail")
	}
}

func TestPresenceChangeDetection(t *testing.T) {
	adapter := &fakeAdapter{}
	s, em, _ := testSession(t, adapter)
	startReady(t, s)

	adapter.push(legacy.Presence{SenderID: "bob", Available: true})
	adapter.push(legacy.Presence{SenderID: "bob", Available: true})
	adapter.push(legacy.ChatState{SenderID: "bob", ChatID: "bob", Composing: true})

	p := em.waitKind(t, xmpp.KindPresence)
	for p.From.Local != "bob" {
		p = em.waitKind(t, xmpp.KindPresence)
	}
	if p.Show != xmpp.ShowAvailable {
		t.Errorf("show = %q", p.Show)
	}

	// The identical second update is suppressed, so the chat state is
	// the very next stanza from bob.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-em.ch:
			if st.From.Local != "bob" {
				continue
			}
			if st.Kind == xmpp.KindPresence {
				t.Fatal("unchanged presence re-announced")
			}
			if st.Kind == xmpp.KindChatState && st.Composing {
				return
			}
		case <-deadline:
			t.Fatal("chat state never emitted")
		}
	}
}
