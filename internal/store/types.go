package store

// UserState tracks the legacy connection state persisted per user.
type UserState string

const (
	UserUnregistered UserState = "unregistered"
	UserConnecting   UserState = "connecting"
	UserConnected    UserState = "connected"
	UserDisconnected UserState = "disconnected"
	UserErrored      UserState = "errored"
)

// User is one registered gateway account.
type User struct {
	JID string
	// Registration holds the legacy credentials/registration blob,
	// opaque to the core (JSON text produced by the registration form).
	Registration string
	State        UserState
	AvatarHash   string
	RegisteredAt int64
}

// Correlation links an XMPP message id to the legacy message id it
// produced or was produced from. Rows are facts: created the moment a
// message is actually sent or received, never updated.
type Correlation struct {
	UserJID  string
	LegacyID string
	XMPPID   string
	Target   string
}

// ArchivedMessage is one row of a group's append-only message log.
type ArchivedMessage struct {
	ID        int64
	UserJID   string
	GroupID   string
	MessageID string
	Sender    string
	Body      string
	SentAt    int64
}

// GroupChat is the persisted record of a group the user is a member
// of. Membership lists are not persisted; they are re-learned from the
// legacy network after a restart.
type GroupChat struct {
	UserJID       string
	LegacyID      string
	LocalPart     string
	Name          string
	Subject       string
	SubjectSetter string
	SubjectSetAt  int64
	JoinedAt      int64
}

// PresenceEntry is the cached presence for one address.
type PresenceEntry struct {
	Show     string
	LastSeen int64
}

// AvatarEntry is the cached avatar reference for one address.
type AvatarEntry struct {
	Hash   string
	Cached bool
}

// Attachment is the metadata for one content-addressed blob.
type Attachment struct {
	Key       string
	Name      string
	MIME      string
	Size      int64
	CreatedAt int64
}
