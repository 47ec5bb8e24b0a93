package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hbruning/xgw/internal/correl"
	"github.com/hbruning/xgw/internal/idmap"
	"github.com/hbruning/xgw/internal/legacy"
	"github.com/hbruning/xgw/internal/store"
	"github.com/hbruning/xgw/internal/xmpp"
	"go.uber.org/zap"
)

// target is the resolved destination of an outgoing stanza.
type target struct {
	legacyID string
	group    bool
	kind     correl.Kind
}

// resolveTarget maps an addressed local-part to a legacy entity. Known
// groups win; everything else resolves as a contact through the
// identity mapper, lazily like inbound references do.
func (s *Session) resolveTarget(local string) (target, error) {
	if g, ok := s.groups.ByLocal(local); ok {
		return target{legacyID: g.LegacyID, group: true, kind: correl.Group}, nil
	}
	c, err := s.contacts.ByLocal(local)
	if err != nil {
		if errors.Is(err, idmap.ErrNotFound) {
			return target{}, &legacy.SendError{Kind: legacy.UnknownTarget}
		}
		return target{}, err
	}
	return target{legacyID: c.LegacyID, kind: correl.Direct}, nil
}

// handleStanza translates one inbound XMPP stanza. It runs on the
// routing goroutine, concurrent with the session's legacy event loop.
func (s *Session) handleStanza(ctx context.Context, st xmpp.Stanza) error {
	switch st.Kind {
	case xmpp.KindMessage:
		return s.handleOutgoingMessage(ctx, st)
	case xmpp.KindChatState:
		s.forwardChatState(ctx, st)
		return nil
	case xmpp.KindReceipt:
		s.forwardReceipt(ctx, st)
		return nil
	case xmpp.KindPresence:
		// The user's own presence toward the component needs no
		// translation.
		return nil
	default:
		return fmt.Errorf("unhandled stanza kind %q", st.Kind)
	}
}

func (s *Session) handleOutgoingMessage(ctx context.Context, st xmpp.Stanza) error {
	tgt, err := s.resolveTarget(st.To.Local)
	if err != nil {
		s.emitDeliveryError(st, err)
		return err
	}

	out := legacy.Outgoing{
		TargetID: tgt.legacyID,
		Group:    tgt.group,
		Kind:     legacy.ContentText,
		Text:     st.Body,
	}
	switch {
	case st.RetractID != "":
		out.Kind = legacy.ContentRetraction
		out.TargetMsgID, err = s.correl.ByXMPP(tgt.kind, st.RetractID)
	case st.ReactionTo != "":
		out.Kind = legacy.ContentReaction
		out.TargetMsgID, err = s.correl.ByXMPP(tgt.kind, st.ReactionTo)
		if len(st.Emojis) > 0 {
			out.Emoji = st.Emojis[0]
		}
	case st.ReplaceID != "":
		out.Kind = legacy.ContentCorrection
		out.ReplaceID, err = s.correl.ByXMPP(tgt.kind, st.ReplaceID)
	}
	if err != nil {
		err = &legacy.SendError{Kind: legacy.UnknownTarget, Cause: err}
		s.emitDeliveryError(st, err)
		return err
	}
	if st.ThreadID != "" {
		if mapped, lookupErr := s.correl.ByXMPP(correl.Thread, st.ThreadID); lookupErr == nil {
			out.ThreadID = mapped
		}
	}

	if _, err := s.Send(ctx, tgt.kind, st.ID, out); err != nil {
		s.emitDeliveryError(st, err)
		return err
	}

	if tgt.group && out.Kind == legacy.ContentText {
		if archErr := s.db.AppendArchived(&store.ArchivedMessage{
			UserJID:   s.user.JID,
			GroupID:   tgt.legacyID,
			MessageID: st.ID,
			Sender:    s.user.JID,
			Body:      st.Body,
			SentAt:    time.Now().UnixMilli(),
		}); archErr != nil {
			s.logger.Warn("archive own group message failed", zap.Error(archErr))
		}
	}
	return nil
}

// Send delivers one outgoing item and durably records the id
// correlation before reporting success, so a later receipt for the
// legacy id is guaranteed to find the mapping.
func (s *Session) Send(ctx context.Context, kind correl.Kind, xmppID string, out legacy.Outgoing) (string, error) {
	if s.machine.Current() != Ready {
		return "", &legacy.SendError{Kind: legacy.NotConnected}
	}

	legacyID, err := s.adapter.Send(ctx, out)
	if err != nil {
		var se *legacy.SendError
		if errors.As(err, &se) {
			return "", err
		}
		return "", &legacy.SendError{Kind: legacy.RemoteRejected, Cause: err}
	}

	if err := s.correl.Record(kind, xmppID, legacyID, out.TargetID); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return "", fmt.Errorf("record correlation for %s: %w", xmppID, err)
		}
	}
	return legacyID, nil
}

// emitDeliveryError answers a failed send with an error stanza
// correlated to the original stanza id.
func (s *Session) emitDeliveryError(st xmpp.Stanza, err error) {
	condition := "internal-server-error"
	text := "delivery failed"
	var se *legacy.SendError
	if errors.As(err, &se) {
		switch se.Kind {
		case legacy.UnknownTarget:
			condition = "item-not-found"
			text = "no such contact or group on the legacy network"
		case legacy.NotConnected:
			condition = "recipient-unavailable"
			text = "not connected to the legacy network"
		case legacy.RemoteRejected:
			condition = "service-unavailable"
			text = "the legacy network rejected the message"
		}
	}
	s.emit(xmpp.Stanza{
		Kind:           xmpp.KindError,
		ID:             st.ID,
		From:           st.To,
		To:             st.From,
		ErrorCondition: condition,
		ErrorText:      text,
	})
}

func (s *Session) forwardReceipt(ctx context.Context, st xmpp.Stanza) {
	rs, ok := s.adapter.(legacy.ReceiptSender)
	if !ok {
		return
	}
	tgt, err := s.resolveTarget(st.To.Local)
	if err != nil {
		return
	}
	var mapped []string
	for _, id := range st.ReceiptFor {
		if legacyID, err := s.correl.ByXMPP(tgt.kind, id); err == nil {
			mapped = append(mapped, legacyID)
		}
	}
	if len(mapped) == 0 {
		return
	}
	if err := rs.SendReceipt(ctx, tgt.legacyID, tgt.group, mapped, st.Read); err != nil {
		s.logger.Debug("forward receipt failed", zap.Error(err))
	}
}

func (s *Session) forwardChatState(ctx context.Context, st xmpp.Stanza) {
	cs, ok := s.adapter.(legacy.ChatStateSender)
	if !ok {
		return
	}
	tgt, err := s.resolveTarget(st.To.Local)
	if err != nil {
		return
	}
	if err := cs.SendChatState(ctx, tgt.legacyID, tgt.group, st.Composing); err != nil {
		s.logger.Debug("forward chat state failed", zap.Error(err))
	}
}
