package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/hbruning/xgw/internal/legacy"
	"github.com/hbruning/xgw/internal/store"
	"github.com/hbruning/xgw/internal/xmpp"
	"go.uber.org/zap"
)

// Group is a legacy multi-party chat the user is a member of. Destroyed
// only when the user leaves it.
type Group struct {
	LegacyID string

	s     *Session
	local string

	mu            sync.Mutex
	name          string
	subject       string
	subjectSetter string
	subjectSetAt  time.Time
	members       map[string]legacy.Participant
}

// Address returns the group's XMPP room address.
func (g *Group) Address() xmpp.Address {
	return xmpp.Address{Local: g.local, Domain: g.s.cfg.ComponentDomain}
}

// Subject returns the current subject with its last-set metadata.
func (g *Group) Subject() (subject, setter string, setAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.subject, g.subjectSetter, g.subjectSetAt
}

// Members returns a snapshot of the membership list.
func (g *Group) Members() []legacy.Participant {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]legacy.Participant, 0, len(g.members))
	for _, p := range g.members {
		out = append(out, p)
	}
	return out
}

// memberNick returns the display nick for a participant id, falling
// back to the id itself.
func (g *Group) memberNick(id string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.members[id]; ok && p.Nick != "" {
		return p.Nick
	}
	return id
}

// applyUpdate folds a GroupUpdate event into the group and announces
// the parts that changed.
func (g *Group) applyUpdate(evt legacy.GroupUpdate) {
	g.mu.Lock()
	if evt.Name != "" {
		g.name = evt.Name
	}
	subjectChanged := evt.Subject != "" && evt.Subject != g.subject
	if subjectChanged {
		g.subject = evt.Subject
		g.subjectSetter = evt.SubjectSetter
		g.subjectSetAt = evt.SubjectSetAt
	}
	for _, p := range evt.Joined {
		g.members[p.ID] = p
	}
	for _, id := range evt.Left {
		delete(g.members, id)
	}
	for _, id := range evt.Promoted {
		if p, ok := g.members[id]; ok {
			p.Role = "admin"
			g.members[id] = p
		}
	}
	for _, id := range evt.Demoted {
		if p, ok := g.members[id]; ok {
			p.Role = "member"
			g.members[id] = p
		}
	}
	metaChanged := evt.Name != "" || subjectChanged
	joined := evt.Joined
	left := evt.Left
	g.mu.Unlock()

	if metaChanged {
		g.persist()
	}
	if subjectChanged {
		g.s.emit(xmpp.Stanza{
			Kind:      xmpp.KindMessage,
			From:      g.Address(),
			To:        g.s.userAddr,
			Subject:   evt.Subject,
			Nick:      evt.SubjectSetter,
			Timestamp: evt.SubjectSetAt,
		})
	}
	for _, p := range joined {
		g.s.emit(xmpp.Stanza{
			Kind: xmpp.KindPresence,
			From: g.Address(),
			To:   g.s.userAddr,
			Show: xmpp.ShowAvailable,
			Nick: p.Nick,
		})
	}
	for _, id := range left {
		g.s.emit(xmpp.Stanza{
			Kind: xmpp.KindPresence,
			From: g.Address(),
			To:   g.s.userAddr,
			Show: xmpp.ShowUnavailable,
			Nick: id,
		})
	}
}

// persist writes the group's identity and metadata through to the
// store so it survives a restart.
func (g *Group) persist() {
	g.mu.Lock()
	gc := store.GroupChat{
		UserJID:       g.s.user.JID,
		LegacyID:      g.LegacyID,
		LocalPart:     g.local,
		Name:          g.name,
		Subject:       g.subject,
		SubjectSetter: g.subjectSetter,
	}
	if !g.subjectSetAt.IsZero() {
		gc.SubjectSetAt = g.subjectSetAt.UnixMilli()
	}
	g.mu.Unlock()

	if err := g.s.db.UpsertGroupChat(&gc); err != nil {
		g.s.logger.Warn("persist group failed", zap.Error(err))
	}
}

// Groups is a session's group registry.
type Groups struct {
	s *Session

	mu       sync.Mutex
	byLegacy map[string]*Group
	byLocal  map[string]*Group
}

func newGroups(s *Session) *Groups {
	return &Groups{
		s:        s,
		byLegacy: make(map[string]*Group),
		byLocal:  make(map[string]*Group),
	}
}

// rehydrate reloads persisted group memberships so outgoing messages
// addressed to a group resolve as group sends from the first stanza
// after a restart.
func (r *Groups) rehydrate() error {
	rows, err := r.s.db.GroupChatsForUser(r.s.user.JID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, gc := range rows {
		g := &Group{
			LegacyID:      gc.LegacyID,
			s:             r.s,
			local:         gc.LocalPart,
			name:          gc.Name,
			subject:       gc.Subject,
			subjectSetter: gc.SubjectSetter,
			members:       make(map[string]legacy.Participant),
		}
		if gc.SubjectSetAt != 0 {
			g.subjectSetAt = time.UnixMilli(gc.SubjectSetAt)
		}
		r.byLegacy[g.LegacyID] = g
		r.byLocal[g.local] = g
	}
	return nil
}

// ByLegacy returns the group for a legacy id, creating it on first
// reference.
func (r *Groups) ByLegacy(legacyID string) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.byLegacy[legacyID]; ok {
		return g, nil
	}
	local, err := r.s.mapper.LocalPart(legacyID)
	if err != nil {
		return nil, fmt.Errorf("derive room address for %q: %w", legacyID, err)
	}
	g := &Group{
		LegacyID: legacyID,
		s:        r.s,
		local:    local,
		members:  make(map[string]legacy.Participant),
	}
	if err := r.s.db.UpsertGroupChat(&store.GroupChat{
		UserJID:   r.s.user.JID,
		LegacyID:  legacyID,
		LocalPart: local,
	}); err != nil {
		return nil, err
	}
	r.byLegacy[legacyID] = g
	r.byLocal[local] = g
	return g, nil
}

// ByLocal returns the group addressed by a local-part, without
// creating one.
func (r *Groups) ByLocal(local string) (*Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.byLocal[local]
	return g, ok
}

// Remove destroys a group entity after the user left it.
func (r *Groups) Remove(legacyID string) {
	r.mu.Lock()
	if g, ok := r.byLegacy[legacyID]; ok {
		delete(r.byLocal, g.local)
		delete(r.byLegacy, legacyID)
	}
	r.mu.Unlock()

	if err := r.s.db.DeleteGroupChat(r.s.user.JID, legacyID); err != nil {
		r.s.logger.Warn("drop group record failed", zap.Error(err))
	}
}
