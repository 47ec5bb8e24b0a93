// Package whatsapp is the reference legacy adapter, backed by
// whatsmeow. Each adapter owns one whatsmeow client whose device store
// lives in the account's private data directory.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hbruning/xgw/internal/legacy"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Factory is the legacy.Factory for WhatsApp accounts.
func Factory(ctx context.Context, acct legacy.Account, logger *zap.Logger) (legacy.Adapter, error) {
	return New(ctx, acct, logger)
}

// Adapter wraps the whatsmeow client and translates between its event
// model and the gateway's.
type Adapter struct {
	client *whatsmeow.Client
	logger *zap.Logger

	mu      sync.Mutex
	handler func(legacy.Event)
}

// New creates an adapter for one account. Credentials persist in a
// whatsmeow-managed sqlite store under acct.DataDir, so a paired
// account reconnects without a new QR flow.
func New(ctx context.Context, acct legacy.Account, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("xgw", [3]uint32{0, 1, 0})

	if err := os.MkdirAll(acct.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create adapter dir: %w", err)
	}
	dbPath := filepath.Join(acct.DataDir, "device.db")

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	a := &Adapter{
		client: whatsmeow.NewClient(deviceStore, nil),
		logger: logger.With(zap.String("adapter", "whatsapp"), zap.String("user", acct.UserBare)),
	}
	a.client.AddEventHandler(a.handleEvent)
	return a, nil
}

// SetEventHandler registers the session's event callback.
func (a *Adapter) SetEventHandler(handler func(legacy.Event)) {
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()
}

func (a *Adapter) dispatch(evt legacy.Event) {
	a.mu.Lock()
	h := a.handler
	a.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

// IsAuthenticated reports whether a paired device identity exists.
func (a *Adapter) IsAuthenticated() bool {
	return a.client.Store.ID != nil
}

// Connect brings the connection up. Unpaired accounts enter the QR
// pairing flow; codes stream to the event handler while the session
// waits for Connected or a failure.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.IsAuthenticated() {
		if err := a.client.Connect(); err != nil {
			return &legacy.LoginError{Kind: legacy.NetworkUnavailable, Cause: err}
		}
		return nil
	}

	// The QR channel must be requested before Connect.
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return &legacy.LoginError{Kind: legacy.NetworkUnavailable, Cause: err}
	}
	if err := a.client.Connect(); err != nil {
		return &legacy.LoginError{Kind: legacy.NetworkUnavailable, Cause: err}
	}
	go a.pumpQR(qrChan)
	return nil
}

func (a *Adapter) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			a.dispatch(legacy.QRCode{Code: item.Code, Timeout: item.Timeout})
		case "success":
			// PairSuccess arrives through the main event handler.
		case "timeout":
			a.dispatch(legacy.Disconnected{Reason: "pairing timed out"})
		default:
			if item.Error != nil {
				a.logger.Warn("pairing failed", zap.Error(item.Error))
				a.dispatch(legacy.LoggedOut{Reason: item.Error.Error()})
			}
		}
	}
}

// Disconnect tears the connection down without touching credentials.
func (a *Adapter) Disconnect() {
	a.client.Disconnect()
}

// Logout unpairs the device remotely and wipes stored credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

func (a *Adapter) selfJID() types.JID {
	if a.client.Store.ID != nil {
		return a.client.Store.ID.ToNonAD()
	}
	return types.EmptyJID
}

// Send delivers one outgoing item and returns the server message id.
func (a *Adapter) Send(ctx context.Context, out legacy.Outgoing) (string, error) {
	chat, err := types.ParseJID(out.TargetID)
	if err != nil {
		return "", &legacy.SendError{Kind: legacy.UnknownTarget, Cause: err}
	}

	var msg *waE2E.Message
	switch out.Kind {
	case legacy.ContentText:
		msg = &waE2E.Message{Conversation: proto.String(out.Text)}
	case legacy.ContentAttachment:
		msg, err = a.buildMedia(ctx, out.Attachment, out.Text)
		if err != nil {
			return "", &legacy.SendError{Kind: legacy.RemoteRejected, Cause: err}
		}
	case legacy.ContentCorrection:
		msg = a.client.BuildEdit(chat, types.MessageID(out.ReplaceID),
			&waE2E.Message{Conversation: proto.String(out.Text)})
	case legacy.ContentReaction:
		msg = a.client.BuildReaction(chat, a.selfJID(), types.MessageID(out.TargetMsgID), out.Emoji)
	case legacy.ContentRetraction:
		msg = a.client.BuildRevoke(chat, types.EmptyJID, types.MessageID(out.TargetMsgID))
	default:
		return "", fmt.Errorf("unsupported content kind %q", out.Kind)
	}

	resp, err := a.client.SendMessage(ctx, chat, msg)
	if err != nil {
		if errors.Is(err, whatsmeow.ErrNotConnected) {
			return "", &legacy.SendError{Kind: legacy.NotConnected, Cause: err}
		}
		return "", &legacy.SendError{Kind: legacy.RemoteRejected, Cause: err}
	}
	return resp.ID, nil
}

func (a *Adapter) buildMedia(ctx context.Context, att *legacy.Attachment, caption string) (*waE2E.Message, error) {
	if att == nil {
		return nil, fmt.Errorf("attachment payload missing")
	}
	mediaType := mediaTypeFor(att.MIME)
	up, err := a.client.Upload(ctx, att.Data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	length := uint64(len(att.Data))
	switch mediaType {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(att.MIME),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(length),
		}}, nil
	case whatsmeow.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(att.MIME),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(length),
		}}, nil
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(att.MIME),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(length),
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			FileName:      proto.String(att.Name),
			Mimetype:      proto.String(att.MIME),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(length),
		}}, nil
	}
}

func mediaTypeFor(mime string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mime, "audio/"):
		return whatsmeow.MediaAudio
	case strings.HasPrefix(mime, "video/"):
		return whatsmeow.MediaVideo
	default:
		return whatsmeow.MediaDocument
	}
}

// SendReceipt marks messages read on the legacy side. Delivery acks are
// handled by whatsmeow itself, so only read marks are forwarded.
func (a *Adapter) SendReceipt(ctx context.Context, chatID string, group bool, messageIDs []string, read bool) error {
	if !read {
		return nil
	}
	chat, err := types.ParseJID(chatID)
	if err != nil {
		return err
	}
	ids := make([]types.MessageID, 0, len(messageIDs))
	for _, id := range messageIDs {
		ids = append(ids, types.MessageID(id))
	}
	sender := chat
	if group {
		sender = types.EmptyJID
	}
	return a.client.MarkRead(ctx, ids, time.Now(), chat, sender)
}

// SendChatState forwards typing activity.
func (a *Adapter) SendChatState(ctx context.Context, chatID string, _ bool, composing bool) error {
	chat, err := types.ParseJID(chatID)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if composing {
		state = types.ChatPresenceComposing
	}
	return a.client.SendChatPresence(ctx, chat, state, types.ChatPresenceMediaText)
}
