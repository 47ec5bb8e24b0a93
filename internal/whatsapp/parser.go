package whatsapp

import (
	"github.com/hbruning/xgw/internal/legacy"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// parseMessage normalizes a whatsmeow message event, including the
// edit/reaction/revoke protocol variants that arrive as ordinary
// messages referencing an earlier message key.
func parseMessage(evt *events.Message) legacy.Message {
	m := legacy.Message{
		ID:         evt.Info.ID,
		ChatID:     evt.Info.Chat.ToNonAD().String(),
		SenderID:   evt.Info.Sender.ToNonAD().String(),
		SenderNick: evt.Info.PushName,
		Group:      evt.Info.IsGroup,
		FromMe:     evt.Info.IsFromMe,
		Timestamp:  evt.Info.Timestamp,
		Body:       extractTextBody(evt.Message),
	}

	if r := evt.Message.GetReactionMessage(); r != nil {
		m.ReactionTo = r.GetKey().GetID()
		m.Emoji = r.GetText()
	}
	if p := evt.Message.GetProtocolMessage(); p != nil {
		switch p.GetType() {
		case waE2E.ProtocolMessage_REVOKE:
			m.RetractID = p.GetKey().GetID()
		case waE2E.ProtocolMessage_MESSAGE_EDIT:
			m.ReplaceID = p.GetKey().GetID()
			m.Body = extractTextBody(p.GetEditedMessage())
		}
	}
	return m
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

// downloadableContent returns the media part of a message, or nil for
// pure text.
func downloadableContent(msg *waE2E.Message) whatsmeow.DownloadableMessage {
	if msg == nil {
		return nil
	}
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage()
	default:
		return nil
	}
}

func attachmentMIME(msg *waE2E.Message) string {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetMimetype()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetMimetype()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetMimetype()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetMimetype()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetMimetype()
	default:
		return ""
	}
}

func attachmentName(msg *waE2E.Message) string {
	if doc := msg.GetDocumentMessage(); doc != nil && doc.GetFileName() != "" {
		return doc.GetFileName()
	}
	switch {
	case msg.GetImageMessage() != nil:
		return "image.jpg"
	case msg.GetVideoMessage() != nil:
		return "video.mp4"
	case msg.GetAudioMessage() != nil:
		return "audio.ogg"
	case msg.GetStickerMessage() != nil:
		return "sticker.webp"
	default:
		return "file"
	}
}
