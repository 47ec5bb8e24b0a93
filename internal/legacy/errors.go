package legacy

import "fmt"

// LoginKind classifies login failures so the session can tell the user
// something actionable without leaking raw network error text.
type LoginKind string

const (
	BadCredentials     LoginKind = "bad_credentials"
	NetworkUnavailable LoginKind = "network_unavailable"
	NeedsReauth        LoginKind = "needs_reauth"
)

// LoginError is returned by Connect when the account cannot log in.
type LoginError struct {
	Kind  LoginKind
	Cause error
}

func (e *LoginError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("login failed (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("login failed (%s)", e.Kind)
}

func (e *LoginError) Unwrap() error { return e.Cause }

// SendKind classifies send failures.
type SendKind string

const (
	UnknownTarget  SendKind = "unknown_target"
	NotConnected   SendKind = "not_connected"
	RemoteRejected SendKind = "remote_rejected"
)

// SendError is returned by Send; it maps onto the delivery-error the
// XMPP sender receives.
type SendError struct {
	Kind  SendKind
	Cause error
}

func (e *SendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("send failed (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("send failed (%s)", e.Kind)
}

func (e *SendError) Unwrap() error { return e.Cause }
