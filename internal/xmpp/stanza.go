package xmpp

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a protocol-agnostic stanza event. The gateway core
// never sees stanza XML; the component front-end translates both ways.
type Kind string

const (
	KindMessage   Kind = "message"
	KindPresence  Kind = "presence"
	KindChatState Kind = "chatstate"
	KindReceipt   Kind = "receipt"
	KindCommand   Kind = "command"
	KindError     Kind = "error"
)

// PresenceShow mirrors the coarse presence states the gateway tracks.
type PresenceShow string

const (
	ShowAvailable   PresenceShow = "available"
	ShowAway        PresenceShow = "away"
	ShowUnavailable PresenceShow = "unavailable"
	ShowUnknown     PresenceShow = ""
)

// Stanza is the normalized event shape exchanged with the XMPP layer.
// Only the fields relevant for the Kind are populated.
type Stanza struct {
	Kind Kind
	ID   string
	From Address
	To   Address

	// Message fields.
	Body      string
	Subject   string
	Timestamp time.Time
	// Carbon marks a message the user sent from another legacy client,
	// reflected here so their XMPP client shows it as their own.
	Carbon bool
	// URL references an attachment served by the attachment server.
	URL string
	// ReplaceID marks a correction of a previously sent message.
	ReplaceID string
	// ReactionTo plus Emojis encode a reaction; empty Emojis retracts it.
	ReactionTo string
	Emojis     []string
	// RetractID marks a retraction of a previously sent message.
	RetractID string
	// ThreadID groups messages belonging to one legacy thread.
	ThreadID string

	// Receipt fields: ids being acknowledged and whether they were read
	// (as opposed to merely delivered).
	ReceiptFor []string
	Read       bool

	// Presence fields.
	Show     PresenceShow
	Nick     string
	LastSeen time.Time

	// ChatState fields.
	Composing bool

	// Command fields (in-band registration, admin surface).
	Command string
	Form    map[string]string

	// Error fields, set on Kind == KindError responses.
	ErrorCondition string
	ErrorText      string
}

// NewID returns a fresh stanza/origin id for gateway-originated events.
func NewID() string {
	return uuid.NewString()
}

// Emitter consumes outbound stanzas. The XMPP component front-end is
// the production implementation; tests record what would be sent.
type Emitter interface {
	Emit(st Stanza)
}
