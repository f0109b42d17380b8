// internal/types/models.go
package types

import (
	"time"
)

// Envelope is one inbound message awaiting admission or merge. When a
// message arrives while its conversation is busy, the envelope is parked in
// the pending queue; a later arrival is merged into it (text concatenated,
// newest metadata winning).
type Envelope struct {
	ID            RequestID       `json:"id"`
	Conversation  ConversationKey `json:"conversation"`
	Sender        string          `json:"sender"`
	Text          string          `json:"text"`
	Attachments   []Attachment    `json:"attachments,omitempty"`
	Target        string          `json:"target"`
	ShouldRespond bool            `json:"should_respond"`
	SourceID      MessageID       `json:"source_id,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

// Attachment describes a file attached to an inbound message. The payload
// itself stays on the platform; only the reference travels with the envelope.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// HistoryEntry is one turn of conversation history.
type HistoryEntry struct {
	Role   string    `json:"role"`
	Sender string    `json:"sender,omitempty"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// SessionState is the per-conversation mutable state needed to build the
// next inference call. It is mutated only by the goroutine holding the
// conversation's admission lock; last-access bookkeeping lives in the
// session store so eviction scans never race with a holder's writes.
type SessionState struct {
	Key          ConversationKey `json:"key"`
	History      []HistoryEntry  `json:"history"`
	Streaming    bool            `json:"streaming"`
	SeenUsers    map[string]bool `json:"seen_users,omitempty"`
	OutputTarget string          `json:"output_target,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewSessionState creates an empty session for the given conversation.
func NewSessionState(key ConversationKey) *SessionState {
	now := time.Now()
	return &SessionState{
		Key:       key,
		SeenUsers: make(map[string]bool),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkSeen records that a user has participated in the conversation.
// Returns true if this is the first time the user was seen.
func (s *SessionState) MarkSeen(user string) bool {
	if s.SeenUsers == nil {
		s.SeenUsers = make(map[string]bool)
	}
	if s.SeenUsers[user] {
		return false
	}
	s.SeenUsers[user] = true
	return true
}

// AppendExchange appends a user turn and the assistant's reply to the
// history and returns the two new entries for persistence.
func (s *SessionState) AppendExchange(sender, userText, assistantText string) []HistoryEntry {
	now := time.Now()
	entries := []HistoryEntry{
		{Role: "user", Sender: sender, Text: userText, At: now},
		{Role: "assistant", Text: assistantText, At: now},
	}
	s.History = append(s.History, entries...)
	s.UpdatedAt = now
	return entries
}
