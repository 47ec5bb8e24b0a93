// Package legacy defines the capability boundary between the gateway
// core and a legacy-network client. The daemon is handed concrete
// Adapter factories at startup; the core never discovers or introspects
// implementations.
package legacy

import (
	"context"

	"go.uber.org/zap"
)

// Account carries what an adapter needs to connect one user's legacy
// account. Registration is the opaque blob captured at registration
// time; DataDir is a private directory the adapter may use for its own
// credential and session state.
type Account struct {
	UserBare     string
	Registration string
	DataDir      string
}

// Factory constructs an adapter for one account. The daemon keeps a
// name -> Factory map populated explicitly in main.
type Factory func(ctx context.Context, acct Account, logger *zap.Logger) (Adapter, error)

// Adapter is the capability interface a legacy-network client
// implements. One adapter instance serves one account.
//
// Adapters run their own concurrency domain; every event they produce
// crosses into the session through the handler registered with
// SetEventHandler, which must therefore be safe to call from any
// goroutine.
type Adapter interface {
	// SetEventHandler registers the event callback. Must be called
	// before Connect.
	SetEventHandler(handler func(Event))

	// Connect establishes the network connection. For unpaired
	// accounts this starts the pairing flow: QRCode events stream to
	// the handler until PairSuccess or a terminal failure. Connect
	// returns once the transport is up; readiness is signalled by a
	// Connected event.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. Idempotent.
	Disconnect()

	// Logout invalidates the account's credentials remotely, beyond
	// just disconnecting.
	Logout(ctx context.Context) error

	// IsAuthenticated reports whether stored credentials exist, i.e.
	// whether Connect can skip pairing.
	IsAuthenticated() bool

	// Send delivers one outgoing item and returns the legacy message id
	// the network assigned to it.
	Send(ctx context.Context, out Outgoing) (legacyID string, err error)
}

// ContentKind tags the variant of an Outgoing item.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentAttachment ContentKind = "attachment"
	ContentCorrection ContentKind = "correction"
	ContentReaction   ContentKind = "reaction"
	ContentRetraction ContentKind = "retraction"
)

// Outgoing is one item to deliver to the legacy network. TargetID is
// the legacy id of the contact or group; only the fields of the tagged
// Kind are meaningful.
type Outgoing struct {
	TargetID string
	Group    bool
	Kind     ContentKind

	// ContentText, ContentAttachment (caption).
	Text string

	// ContentAttachment.
	Attachment *Attachment

	// ContentCorrection: the legacy id of the message being replaced.
	ReplaceID string

	// ContentReaction, ContentRetraction: the legacy id being targeted.
	TargetMsgID string
	// ContentReaction; empty retracts a previous reaction.
	Emoji string

	// ThreadID carries the legacy thread for networks that thread
	// group messages.
	ThreadID string
}

// Attachment is an outgoing binary payload.
type Attachment struct {
	Name string
	MIME string
	Data []byte
}
