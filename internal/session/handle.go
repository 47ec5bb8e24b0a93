package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hbruning/xgw/internal/bus"
	"github.com/hbruning/xgw/internal/correl"
	"github.com/hbruning/xgw/internal/legacy"
	"github.com/hbruning/xgw/internal/store"
	"github.com/hbruning/xgw/internal/xmpp"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// dispatch runs on the session loop goroutine; events of one session
// are therefore processed in arrival order.
func (s *Session) dispatch(evt legacy.Event) {
	switch evt := evt.(type) {
	case legacy.QRCode:
		s.handleQRCode(evt)
	case legacy.PairSuccess:
		s.handlePairSuccess(evt)
	case legacy.Connected:
		s.handleConnected()
	case legacy.Disconnected:
		s.handleDisconnected(evt)
	case legacy.LoggedOut:
		s.handleLoggedOut(evt)
	case legacy.Message:
		s.handleLegacyMessage(evt)
	case legacy.Receipt:
		s.handleReceipt(evt)
	case legacy.Presence:
		s.handlePresence(evt)
	case legacy.Avatar:
		s.handleAvatar(evt)
	case legacy.ChatState:
		s.handleChatState(evt)
	case legacy.GroupUpdate:
		s.handleGroupUpdate(evt)
	default:
		s.logger.Warn("unhandled legacy event", zap.Any("event", evt))
	}
}

func (s *Session) handleQRCode(evt legacy.QRCode) {
	// Multi-step pairing re-enters Authenticating for each fresh code.
	_ = s.machine.Transition(Authenticating)

	st := xmpp.Stanza{
		Kind:      xmpp.KindMessage,
		From:      s.componentAddr(),
		To:        s.userAddr,
		Body:      "Scan this code with the official client to pair: " + evt.Code,
		Timestamp: time.Now(),
	}
	if s.blobs != nil {
		png, err := qrcode.Encode(evt.Code, qrcode.Medium, 256)
		if err != nil {
			s.logger.Warn("render pairing QR failed", zap.Error(err))
		} else if url, err := s.blobs.Store(png, "pairing-qr.png", "image/png"); err != nil {
			s.logger.Warn("store pairing QR failed", zap.Error(err))
		} else {
			st.URL = url
		}
	}
	s.emit(st)
	s.bus.Publish(bus.Event{Kind: "pairing.qr", User: s.user.JID, Timestamp: time.Now(), Payload: evt.Code})
}

func (s *Session) handlePairSuccess(evt legacy.PairSuccess) {
	if evt.Registration != "" {
		if err := s.db.SetUserRegistration(s.user.JID, evt.Registration); err != nil {
			s.logger.Error("persist registration after pairing failed", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.selfID = evt.LegacyID
	s.mu.Unlock()
	s.systemMessage("Pairing successful. Connecting your account.")
	s.bus.Publish(bus.Event{Kind: "pairing.success", User: s.user.JID, Timestamp: time.Now()})
}

func (s *Session) handleConnected() {
	if err := s.machine.Transition(Ready); err != nil {
		s.logger.Warn("connected event in unexpected state", zap.Error(err))
		return
	}
	s.connOnce.Do(func() { close(s.connected) })
	_ = s.db.SetUserState(s.user.JID, store.UserConnected)
	// Announce the gateway itself as available in the user's contact list.
	s.emit(xmpp.Stanza{
		Kind: xmpp.KindPresence,
		From: s.componentAddr(),
		To:   s.userAddr,
		Show: xmpp.ShowAvailable,
	})
	s.bus.Publish(bus.Event{Kind: "session.connected", User: s.user.JID, Timestamp: time.Now()})
	s.logger.Info("legacy network connected")
}

func (s *Session) handleDisconnected(evt legacy.Disconnected) {
	switch s.machine.Current() {
	case Ready:
		s.logger.Warn("legacy network disconnected", zap.String("reason", evt.Reason))
		_ = s.machine.Transition(Disconnected)
		_ = s.machine.Transition(Reconnecting)
		_ = s.db.SetUserState(s.user.JID, store.UserDisconnected)
		s.wg.Add(1)
		go s.reconnectLoop()
	case Authenticating:
		_ = s.machine.Transition(Disconnected)
		select {
		case s.loginFail <- &legacy.LoginError{Kind: legacy.NetworkUnavailable}:
		default:
		}
	case Reconnecting:
		// An attempt failed; the reconnect loop keeps backing off.
	}
}

func (s *Session) handleLoggedOut(evt legacy.LoggedOut) {
	s.logger.Warn("logged out by legacy network", zap.String("reason", evt.Reason))
	_ = s.db.SetUserState(s.user.JID, store.UserErrored)
	if s.machine.Current() == Authenticating {
		select {
		case s.loginFail <- &legacy.LoginError{Kind: legacy.NeedsReauth}:
		default:
		}
	} else {
		s.systemMessage("The legacy network logged this gateway out. Re-register to pair again.")
	}
	s.terminate()
}

func (s *Session) handleLegacyMessage(evt legacy.Message) {
	kind := correl.Direct
	if evt.Group {
		kind = correl.Group
	}

	if evt.FromMe {
		// The network reflects our own sends back; a correlation hit
		// means this gateway caused the message and it must not be
		// redelivered as new.
		if s.correl.IsEcho(kind, evt.ID) {
			return
		}
		s.emitCarbon(kind, evt)
		return
	}

	var from xmpp.Address
	var nick string
	if evt.Group {
		g, err := s.groups.ByLegacy(evt.ChatID)
		if err != nil {
			s.logger.Error("resolve group failed", zap.String("chat", evt.ChatID), zap.Error(err))
			return
		}
		from = g.Address()
		nick = evt.SenderNick
		if nick == "" {
			nick = g.memberNick(evt.SenderID)
		}
	} else {
		c, err := s.contacts.ByLegacy(evt.SenderID)
		if err != nil {
			s.logger.Error("resolve contact failed", zap.String("sender", evt.SenderID), zap.Error(err))
			return
		}
		c.SetNick(evt.SenderNick)
		from = c.Address()
	}

	xmppID := xmpp.NewID()
	if err := s.correl.Record(kind, xmppID, evt.ID, evt.ChatID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Redelivery of a message we already translated.
			s.logger.Debug("duplicate legacy message dropped", zap.String("legacy_id", evt.ID))
			return
		}
		s.logger.Error("record inbound correlation failed", zap.Error(err))
		return
	}

	st := xmpp.Stanza{
		Kind:      xmpp.KindMessage,
		ID:        xmppID,
		From:      from,
		To:        s.userAddr,
		Body:      evt.Body,
		Nick:      nick,
		Timestamp: evt.Timestamp,
		ThreadID:  s.mapThread(evt.ThreadID),
		URL:       s.storeAttachment(evt),
	}
	s.mapVariants(kind, evt, &st)

	if evt.Group {
		s.archive(evt, xmppID)
	}
	s.emit(st)
}

// emitCarbon forwards a message the user sent from another legacy
// client, marked so their XMPP client shows it as their own.
func (s *Session) emitCarbon(kind correl.Kind, evt legacy.Message) {
	var from xmpp.Address
	if evt.Group {
		g, err := s.groups.ByLegacy(evt.ChatID)
		if err != nil {
			return
		}
		from = g.Address()
	} else {
		c, err := s.contacts.ByLegacy(evt.ChatID)
		if err != nil {
			return
		}
		from = c.Address()
	}
	xmppID := xmpp.NewID()
	if err := s.correl.Record(kind, xmppID, evt.ID, evt.ChatID); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			s.logger.Error("record carbon correlation failed", zap.Error(err))
		}
		return
	}
	st := xmpp.Stanza{
		Kind:      xmpp.KindMessage,
		ID:        xmppID,
		From:      from,
		To:        s.userAddr,
		Body:      evt.Body,
		Carbon:    true,
		Timestamp: evt.Timestamp,
	}
	s.mapVariants(kind, evt, &st)
	if evt.Group {
		s.archive(evt, xmppID)
	}
	s.emit(st)
}

// mapVariants translates correction/reaction/retraction references
// from legacy ids to the XMPP ids they correlate to.
func (s *Session) mapVariants(kind correl.Kind, evt legacy.Message, st *xmpp.Stanza) {
	if evt.ReplaceID != "" {
		if mapped, err := s.correl.ByLegacy(kind, evt.ReplaceID); err == nil {
			st.ReplaceID = mapped
		}
	}
	if evt.ReactionTo != "" {
		if mapped, err := s.correl.ByLegacy(kind, evt.ReactionTo); err == nil {
			st.ReactionTo = mapped
			if evt.Emoji != "" {
				st.Emojis = []string{evt.Emoji}
			}
		}
	}
	if evt.RetractID != "" {
		if mapped, err := s.correl.ByLegacy(kind, evt.RetractID); err == nil {
			st.RetractID = mapped
		}
	}
}

// mapThread resolves a legacy thread id to a stable XMPP thread id,
// allocating one on first sight.
func (s *Session) mapThread(threadID string) string {
	if threadID == "" {
		return ""
	}
	if mapped, err := s.correl.ByLegacy(correl.Thread, threadID); err == nil {
		return mapped
	}
	xmppThread := xmpp.NewID()
	if err := s.correl.Record(correl.Thread, xmppThread, threadID, ""); err != nil {
		if mapped, lookupErr := s.correl.ByLegacy(correl.Thread, threadID); lookupErr == nil {
			return mapped
		}
		s.logger.Warn("record thread correlation failed", zap.Error(err))
		return ""
	}
	return xmppThread
}

// storeAttachment stores an inbound attachment and returns its stable
// URL, reusing the URL handed out for the same legacy message before.
func (s *Session) storeAttachment(evt legacy.Message) string {
	if evt.Attachment == nil || s.blobs == nil {
		return ""
	}
	if url, err := s.db.GetAttachmentURL(s.user.JID, evt.ID); err == nil {
		return url
	}
	url, err := s.blobs.Store(evt.Attachment.Data, evt.Attachment.Name, evt.Attachment.MIME)
	if err != nil {
		s.logger.Error("store attachment failed", zap.Error(err))
		return ""
	}
	if err := s.db.SetAttachmentURL(s.user.JID, evt.ID, url); err != nil {
		s.logger.Warn("remember attachment url failed", zap.Error(err))
	}
	return url
}

func (s *Session) archive(evt legacy.Message, xmppID string) {
	err := s.db.AppendArchived(&store.ArchivedMessage{
		UserJID:   s.user.JID,
		GroupID:   evt.ChatID,
		MessageID: xmppID,
		Sender:    evt.SenderID,
		Body:      evt.Body,
		SentAt:    evt.Timestamp.UnixMilli(),
	})
	if err != nil {
		s.logger.Warn("archive group message failed", zap.Error(err))
	}
}

func (s *Session) handleReceipt(evt legacy.Receipt) {
	kind := correl.Direct
	if evt.Group {
		kind = correl.Group
	}
	var mapped []string
	for _, id := range evt.MessageIDs {
		xmppID, err := s.correl.ByLegacy(kind, id)
		if err != nil {
			s.logger.Debug("receipt for unknown message", zap.String("legacy_id", id))
			continue
		}
		mapped = append(mapped, xmppID)
	}
	if len(mapped) == 0 {
		return
	}

	var from xmpp.Address
	if evt.Group {
		g, err := s.groups.ByLegacy(evt.ChatID)
		if err != nil {
			return
		}
		from = g.Address()
	} else {
		c, err := s.contacts.ByLegacy(evt.ChatID)
		if err != nil {
			return
		}
		from = c.Address()
	}
	s.emit(xmpp.Stanza{
		Kind:       xmpp.KindReceipt,
		From:       from,
		To:         s.userAddr,
		ReceiptFor: mapped,
		Read:       evt.Kind == legacy.ReceiptRead,
		Timestamp:  evt.Timestamp,
	})
}

func (s *Session) handlePresence(evt legacy.Presence) {
	c, err := s.contacts.ByLegacy(evt.SenderID)
	if err != nil {
		s.logger.Error("resolve contact failed", zap.String("sender", evt.SenderID), zap.Error(err))
		return
	}
	show := xmpp.ShowUnavailable
	if evt.Available {
		show = xmpp.ShowAvailable
		if evt.Away {
			show = xmpp.ShowAway
		}
	}
	c.SetPresence(show, evt.LastSeen)
}

func (s *Session) handleAvatar(evt legacy.Avatar) {
	c, err := s.contacts.ByLegacy(evt.SenderID)
	if err != nil {
		s.logger.Error("resolve contact failed", zap.String("sender", evt.SenderID), zap.Error(err))
		return
	}
	hash := evt.Hash
	if evt.Remove {
		hash = ""
	}
	c.SetAvatar(hash, false)
}

func (s *Session) handleChatState(evt legacy.ChatState) {
	var from xmpp.Address
	if evt.Group {
		g, err := s.groups.ByLegacy(evt.ChatID)
		if err != nil {
			return
		}
		from = g.Address()
	} else {
		c, err := s.contacts.ByLegacy(evt.SenderID)
		if err != nil {
			return
		}
		from = c.Address()
	}
	s.emit(xmpp.Stanza{
		Kind:      xmpp.KindChatState,
		From:      from,
		To:        s.userAddr,
		Composing: evt.Composing,
	})
}

func (s *Session) handleGroupUpdate(evt legacy.GroupUpdate) {
	s.mu.Lock()
	selfID := s.selfID
	s.mu.Unlock()

	if selfID != "" && slices.Contains(evt.Left, selfID) {
		g, err := s.groups.ByLegacy(evt.GroupID)
		if err == nil {
			s.emit(xmpp.Stanza{
				Kind: xmpp.KindPresence,
				From: g.Address(),
				To:   s.userAddr,
				Show: xmpp.ShowUnavailable,
			})
		}
		s.groups.Remove(evt.GroupID)
		return
	}

	g, err := s.groups.ByLegacy(evt.GroupID)
	if err != nil {
		s.logger.Error("resolve group failed", zap.String("group", evt.GroupID), zap.Error(err))
		return
	}
	g.applyUpdate(evt)
}

// Archive pages through a group's stored history, oldest first.
func (s *Session) Archive(groupLocal string, start, end time.Time, limit int) ([]store.ArchivedMessage, error) {
	g, ok := s.groups.ByLocal(groupLocal)
	if !ok {
		return nil, fmt.Errorf("no such group %q", groupLocal)
	}
	return s.db.ArchivedBetween(s.user.JID, g.LegacyID, start, end, limit)
}
