package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hbruning/xgw/internal/idmap"
	"github.com/hbruning/xgw/internal/store"
	"github.com/hbruning/xgw/internal/xmpp"
	"go.uber.org/zap"
)

// Contact is a legacy-network entity the user can message one-to-one.
// Created lazily on first reference, never implicitly destroyed.
type Contact struct {
	LegacyID string

	s     *Session
	local string

	mu       sync.Mutex
	nick     string
	show     xmpp.PresenceShow
	lastSeen time.Time
	avatar   store.AvatarEntry
}

// Address returns the contact's XMPP address under the component domain.
func (c *Contact) Address() xmpp.Address {
	return xmpp.Address{Local: c.local, Domain: c.s.cfg.ComponentDomain}
}

// Nick returns the current display name.
func (c *Contact) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// SetNick updates the display name, persisting and announcing it only
// when it actually changed.
func (c *Contact) SetNick(nick string) {
	if nick == "" {
		return
	}
	c.mu.Lock()
	changed := c.nick != nick
	c.nick = nick
	show, lastSeen := c.show, c.lastSeen
	c.mu.Unlock()
	if !changed {
		return
	}
	if err := c.s.db.SetNick(c.s.user.JID, c.Address().String(), nick); err != nil {
		c.s.logger.Warn("persist nick failed", zap.Error(err))
	}
	c.emitPresence(show, lastSeen, nick)
}

// SetPresence updates availability, persisting and announcing it only
// on change.
func (c *Contact) SetPresence(show xmpp.PresenceShow, lastSeen time.Time) {
	c.mu.Lock()
	changed := c.show != show || !c.lastSeen.Equal(lastSeen)
	c.show = show
	c.lastSeen = lastSeen
	nick := c.nick
	c.mu.Unlock()
	if !changed {
		return
	}
	entry := store.PresenceEntry{Show: string(show)}
	if !lastSeen.IsZero() {
		entry.LastSeen = lastSeen.UnixMilli()
	}
	if err := c.s.db.SetPresence(c.s.user.JID, c.Address().String(), entry); err != nil {
		c.s.logger.Warn("persist presence failed", zap.Error(err))
	}
	c.emitPresence(show, lastSeen, nick)
}

// SetAvatar updates the avatar content hash.
func (c *Contact) SetAvatar(hash string, cached bool) {
	c.mu.Lock()
	changed := c.avatar.Hash != hash
	c.avatar = store.AvatarEntry{Hash: hash, Cached: cached}
	c.mu.Unlock()
	if !changed {
		return
	}
	if err := c.s.db.SetAvatar(c.s.user.JID, c.Address().String(), store.AvatarEntry{Hash: hash, Cached: cached}); err != nil {
		c.s.logger.Warn("persist avatar failed", zap.Error(err))
	}
}

func (c *Contact) emitPresence(show xmpp.PresenceShow, lastSeen time.Time, nick string) {
	c.s.emit(xmpp.Stanza{
		Kind:     xmpp.KindPresence,
		From:     c.Address(),
		To:       c.s.userAddr,
		Show:     show,
		Nick:     nick,
		LastSeen: lastSeen,
	})
}

// Contacts is a session's lazily-populated contact registry. It is
// owned by its session and mutated only through it.
type Contacts struct {
	s *Session

	mu       sync.Mutex
	byLegacy map[string]*Contact
	byLocal  map[string]*Contact
}

func newContacts(s *Session) *Contacts {
	return &Contacts{
		s:        s,
		byLegacy: make(map[string]*Contact),
		byLocal:  make(map[string]*Contact),
	}
}

// ByLegacy returns the contact for a legacy id, creating it on first
// reference. Cached nick and presence are loaded so restarts do not
// re-announce unchanged state.
func (r *Contacts) ByLegacy(legacyID string) (*Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byLegacy[legacyID]; ok {
		return c, nil
	}
	local, err := r.s.mapper.LocalPart(legacyID)
	if err != nil {
		return nil, fmt.Errorf("derive local part for %q: %w", legacyID, err)
	}
	c := &Contact{LegacyID: legacyID, s: r.s, local: local}
	addr := c.Address().String()
	if nick, err := r.s.db.GetNick(r.s.user.JID, addr); err == nil {
		c.nick = nick
	}
	if p, err := r.s.db.GetPresence(r.s.user.JID, addr); err == nil {
		c.show = xmpp.PresenceShow(p.Show)
		if p.LastSeen > 0 {
			c.lastSeen = time.UnixMilli(p.LastSeen)
		}
	}
	if a, err := r.s.db.GetAvatar(r.s.user.JID, addr); err == nil {
		c.avatar = a
	}
	r.byLegacy[legacyID] = c
	r.byLocal[local] = c
	return c, nil
}

// ByLocal returns the contact addressed by a local-part. Unlike
// ByLegacy it also creates lazily, resolving through the identity
// mapper; idmap.ErrNotFound means the local-part is not a
// legacy-mapped entity.
func (r *Contacts) ByLocal(local string) (*Contact, error) {
	r.mu.Lock()
	if c, ok := r.byLocal[local]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()
	legacyID, err := r.s.mapper.LegacyID(local)
	if err != nil {
		if errors.Is(err, idmap.ErrNotFound) {
			return nil, err
		}
		return nil, err
	}
	return r.ByLegacy(legacyID)
}

// All returns a snapshot of every known contact.
func (r *Contacts) All() []*Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Contact, 0, len(r.byLegacy))
	for _, c := range r.byLegacy {
		out = append(out, c)
	}
	return out
}
