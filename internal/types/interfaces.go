// internal/types/interfaces.go
package types

import (
	"context"
)

// AdmissionGate is an external pre-check consulted before a message is
// admitted, typically a circuit breaker wrapping the inference backend.
// Gate policy is owned by the caller; the orchestrator only consumes it.
type AdmissionGate interface {
	CanExecute() bool
}

// GateFunc adapts a plain function to the AdmissionGate interface.
type GateFunc func() bool

func (f GateFunc) CanExecute() bool { return f() }

// OpenGate is an AdmissionGate that always admits.
var OpenGate = GateFunc(func() bool { return true })

// SessionPersistence is the durable backing store for conversation state.
// Load returns (nil, nil) when the conversation has no persisted state.
// Flush forces any buffered writes for the key to durable storage; the
// session store calls it best-effort before evicting a conversation, and
// write-through implementations may return nil without doing work.
type SessionPersistence interface {
	Load(ctx context.Context, key ConversationKey) (*SessionState, error)
	Save(ctx context.Context, key ConversationKey, state *SessionState, newEntries []HistoryEntry) error
	Flush(ctx context.Context, key ConversationKey) error
}

// Sender delivers final text to the outside world (a chat platform).
// Errors are reported to the user as a generic failure and never retried
// automatically by the core.
type Sender interface {
	Deliver(ctx context.Context, target, text string) (MessageID, error)
}

// SenderFunc adapts a plain function to the Sender interface.
type SenderFunc func(ctx context.Context, target, text string) (MessageID, error)

func (f SenderFunc) Deliver(ctx context.Context, target, text string) (MessageID, error) {
	return f(ctx, target, text)
}
