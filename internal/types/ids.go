// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

// ConversationKey identifies one serialization domain, typically a single
// chat channel. Keys are prefixed strings like "telegram:12345" so delivery
// handlers can route on the prefix.
type ConversationKey string

// MessageID identifies a message on the upstream chat platform.
type MessageID string

// RequestID identifies one logical pass through the admission protocol.
type RequestID string

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

func NewConversationKey(parts ...string) ConversationKey {
	return ConversationKey(strings.Join(parts, ":"))
}

// Source returns the platform prefix of the key ("telegram" for
// "telegram:12345"), or the whole key if it has no prefix.
func (k ConversationKey) Source() string {
	s := string(k)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}
