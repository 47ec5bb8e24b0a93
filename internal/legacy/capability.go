package legacy

import "context"

// Optional capabilities. Sessions type-assert for these and silently
// skip the feature when the adapter does not provide it.

// ReceiptSender forwards the user's read state to the legacy network.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, chatID string, group bool, messageIDs []string, read bool) error
}

// ChatStateSender forwards the user's typing activity.
type ChatStateSender interface {
	SendChatState(ctx context.Context, chatID string, group bool, composing bool) error
}
