package whatsapp

import (
	"context"

	"github.com/hbruning/xgw/internal/legacy"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// handleEvent translates whatsmeow events into the gateway's event
// union. Everything not listed is adapter-internal noise.
func (a *Adapter) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *events.PairSuccess:
		a.logger.Info("paired", zap.Stringer("jid", evt.ID))
		a.dispatch(legacy.PairSuccess{
			LegacyID: evt.ID.ToNonAD().String(),
			Name:     evt.BusinessName,
		})
	case *events.Connected:
		a.dispatch(legacy.Connected{})
	case *events.Disconnected:
		a.dispatch(legacy.Disconnected{Reason: "stream closed"})
	case *events.StreamReplaced:
		a.dispatch(legacy.Disconnected{Reason: "stream replaced by another client"})
	case *events.LoggedOut:
		a.dispatch(legacy.LoggedOut{Reason: evt.Reason.String()})
	case *events.Message:
		a.handleMessage(evt)
	case *events.Receipt:
		a.handleReceipt(evt)
	case *events.Presence:
		a.dispatch(legacy.Presence{
			SenderID:  evt.From.ToNonAD().String(),
			Available: !evt.Unavailable,
			LastSeen:  evt.LastSeen,
		})
	case *events.ChatPresence:
		a.dispatch(legacy.ChatState{
			SenderID:  evt.Sender.ToNonAD().String(),
			ChatID:    evt.Chat.ToNonAD().String(),
			Group:     evt.IsGroup,
			Composing: evt.State == types.ChatPresenceComposing,
		})
	case *events.GroupInfo:
		a.handleGroupInfo(evt)
	case *events.Picture:
		a.handlePicture(evt)
	}
}

func (a *Adapter) handlePicture(evt *events.Picture) {
	av := legacy.Avatar{SenderID: evt.JID.ToNonAD().String(), Remove: evt.Remove}
	if !evt.Remove {
		info, err := a.client.GetProfilePictureInfo(context.Background(), evt.JID, nil)
		if err != nil || info == nil {
			a.logger.Debug("fetch profile picture info failed", zap.Error(err))
			return
		}
		av.Hash = info.ID
	}
	a.dispatch(av)
}

func (a *Adapter) handleMessage(evt *events.Message) {
	msg := parseMessage(evt)
	if dl := downloadableContent(evt.Message); dl != nil {
		data, err := a.client.Download(context.Background(), dl)
		if err != nil {
			a.logger.Warn("download media failed",
				zap.String("msg_id", msg.ID), zap.Error(err))
		} else {
			msg.Attachment = &legacy.Attachment{
				Name: attachmentName(evt.Message),
				MIME: attachmentMIME(evt.Message),
				Data: data,
			}
		}
	}
	a.dispatch(msg)
}

func (a *Adapter) handleReceipt(evt *events.Receipt) {
	kind := legacy.ReceiptDelivered
	if evt.Type == types.ReceiptTypeRead || evt.Type == types.ReceiptTypeReadSelf {
		kind = legacy.ReceiptRead
	}
	ids := make([]string, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		ids = append(ids, string(id))
	}
	a.dispatch(legacy.Receipt{
		ChatID:     evt.Chat.ToNonAD().String(),
		Group:      evt.IsGroup,
		MessageIDs: ids,
		Kind:       kind,
		Timestamp:  evt.Timestamp,
	})
}

func (a *Adapter) handleGroupInfo(evt *events.GroupInfo) {
	up := legacy.GroupUpdate{GroupID: evt.JID.ToNonAD().String()}
	if evt.Name != nil {
		up.Name = evt.Name.Name
	}
	if evt.Topic != nil {
		up.Subject = evt.Topic.Topic
		up.SubjectSetter = evt.Topic.TopicSetBy.ToNonAD().String()
		up.SubjectSetAt = evt.Topic.TopicSetAt
	}
	for _, j := range evt.Join {
		up.Joined = append(up.Joined, legacy.Participant{ID: j.ToNonAD().String(), Role: "member"})
	}
	for _, j := range evt.Leave {
		up.Left = append(up.Left, j.ToNonAD().String())
	}
	for _, j := range evt.Promote {
		up.Promoted = append(up.Promoted, j.ToNonAD().String())
	}
	for _, j := range evt.Demote {
		up.Demoted = append(up.Demoted, j.ToNonAD().String())
	}
	a.dispatch(up)
}
