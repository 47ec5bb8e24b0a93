// Package correl maintains the bidirectional index between XMPP
// message ids and the legacy message ids they produced or were produced
// from. It answers the "echo problem": an inbound legacy event whose id
// is already correlated was caused by this gateway's own send and must
// map to the existing XMPP id instead of synthesizing a new message.
package correl

import (
	"errors"
	"fmt"

	"github.com/hbruning/xgw/internal/store"
)

// ErrNotFound is returned when no correlation exists for an id.
var ErrNotFound = errors.New("correl: not found")

// Kind selects the conversation family a correlation belongs to.
type Kind = store.CorrelationKind

const (
	Direct = store.CorrelationDirect
	Group  = store.CorrelationGroup
	Thread = store.CorrelationThread
)

// Engine indexes message-id correlations for one user, backed by the
// store. Lookups are single indexed point reads; they sit on the
// critical path of every inbound legacy event.
type Engine struct {
	db   *store.DB
	user string
}

// New creates an engine scoped to one user.
func New(db *store.DB, userBare string) *Engine {
	return &Engine{db: db, user: userBare}
}

// Record durably stores (xmppID <-> legacyID) for a message that was
// actually sent or received. Recording the same legacy id twice is an
// error: a correlation is a fact, not a placeholder.
func (e *Engine) Record(kind Kind, xmppID, legacyID, target string) error {
	err := e.db.InsertCorrelation(kind, &store.Correlation{
		UserJID:  e.user,
		LegacyID: legacyID,
		XMPPID:   xmppID,
		Target:   target,
	})
	if err != nil {
		return fmt.Errorf("record correlation: %w", err)
	}
	return nil
}

// ByXMPP resolves an XMPP message id to its legacy id.
func (e *Engine) ByXMPP(kind Kind, xmppID string) (string, error) {
	c, err := e.db.CorrelationByXMPP(kind, e.user, xmppID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return c.LegacyID, nil
}

// ByLegacy resolves a legacy message id to its XMPP id.
func (e *Engine) ByLegacy(kind Kind, legacyID string) (string, error) {
	c, err := e.db.CorrelationByLegacy(kind, e.user, legacyID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return c.XMPPID, nil
}

// IsEcho reports whether an inbound legacy message id belongs to a
// message this gateway already knows about.
func (e *Engine) IsEcho(kind Kind, legacyID string) bool {
	_, err := e.ByLegacy(kind, legacyID)
	return err == nil
}
