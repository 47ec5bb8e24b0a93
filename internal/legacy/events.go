package legacy

import "time"

// Event is the tagged union of everything an adapter reports. Sessions
// dispatch with a type switch; the marker method keeps arbitrary values
// out of the event queue.
type Event interface {
	legacyEvent()
}

// QRCode carries one pairing code. Multi-step pairing emits several,
// each superseding the last.
type QRCode struct {
	Code    string
	Timeout time.Duration
}

// PairSuccess reports completed pairing. Registration, when non-empty,
// replaces the account's stored registration blob.
type PairSuccess struct {
	LegacyID     string
	Name         string
	Registration string
}

// Connected reports the account is online and ready to send.
type Connected struct{}

// Disconnected reports an unexpected connection loss. The session
// decides whether to reconnect.
type Disconnected struct {
	Reason string
}

// LoggedOut reports the network invalidated the credentials. Terminal:
// the user must re-register or re-pair.
type LoggedOut struct {
	Reason string
}

// Message is an inbound message, or the reflection of one the user sent
// from another client (FromMe).
type Message struct {
	ID         string
	ChatID     string
	SenderID   string
	Group      bool
	FromMe     bool
	Body       string
	SenderNick string
	Timestamp  time.Time

	// Attachment payload already fetched by the adapter, if any.
	Attachment *Attachment

	// Set for the respective variants, mirroring Outgoing.
	ReplaceID  string
	ReactionTo string
	Emoji      string
	RetractID  string
	ThreadID   string
}

// ReceiptKind distinguishes delivery acks from read marks.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

// Receipt acknowledges previously sent messages.
type Receipt struct {
	ChatID     string
	Group      bool
	MessageIDs []string
	Kind       ReceiptKind
	Timestamp  time.Time
}

// Presence reports a contact's availability.
type Presence struct {
	SenderID  string
	Available bool
	Away      bool
	LastSeen  time.Time
}

// Avatar reports a contact's profile picture change. Hash identifies
// the picture content; Remove means the contact cleared it.
type Avatar struct {
	SenderID string
	Hash     string
	Remove   bool
}

// ChatState reports typing activity.
type ChatState struct {
	SenderID  string
	ChatID    string
	Group     bool
	Composing bool
}

// GroupUpdate reports group metadata and membership changes. Only the
// non-zero parts apply.
type GroupUpdate struct {
	GroupID string
	Name    string

	Subject       string
	SubjectSetter string
	SubjectSetAt  time.Time

	Joined   []Participant
	Left     []string
	Promoted []string
	Demoted  []string
}

// Participant is one group member.
type Participant struct {
	ID   string
	Nick string
	Role string
}

func (QRCode) legacyEvent()       {}
func (PairSuccess) legacyEvent()  {}
func (Connected) legacyEvent()    {}
func (Disconnected) legacyEvent() {}
func (LoggedOut) legacyEvent()    {}
func (Message) legacyEvent()      {}
func (Receipt) legacyEvent()      {}
func (Presence) legacyEvent()     {}
func (Avatar) legacyEvent()       {}
func (ChatState) legacyEvent()    {}
func (GroupUpdate) legacyEvent()  {}
