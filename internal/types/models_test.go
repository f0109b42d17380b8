// internal/types/models_test.go
package types

import (
	"testing"
)

func TestNewConversationKey(t *testing.T) {
	key := NewConversationKey("telegram", "12345")
	if key != "telegram:12345" {
		t.Errorf("expected telegram:12345, got %q", key)
	}
	if key.Source() != "telegram" {
		t.Errorf("expected source telegram, got %q", key.Source())
	}
	if ConversationKey("bare").Source() != "bare" {
		t.Error("unprefixed key should return itself as source")
	}
}

func TestMarkSeen(t *testing.T) {
	s := NewSessionState("telegram:1")
	if !s.MarkSeen("alice") {
		t.Error("first sighting should return true")
	}
	if s.MarkSeen("alice") {
		t.Error("second sighting should return false")
	}
	if !s.MarkSeen("bob") {
		t.Error("different user should return true")
	}
	if len(s.SeenUsers) != 2 {
		t.Errorf("expected 2 seen users, got %d", len(s.SeenUsers))
	}
}

func TestAppendExchange(t *testing.T) {
	s := NewSessionState("telegram:1")
	before := s.UpdatedAt

	entries := s.AppendExchange("alice", "question", "answer")
	if len(entries) != 2 {
		t.Fatalf("expected 2 new entries, got %d", len(entries))
	}
	if entries[0].Role != "user" || entries[0].Sender != "alice" {
		t.Errorf("unexpected user entry %+v", entries[0])
	}
	if entries[1].Role != "assistant" || entries[1].Text != "answer" {
		t.Errorf("unexpected assistant entry %+v", entries[1])
	}
	if len(s.History) != 2 {
		t.Errorf("history should hold both turns, got %d", len(s.History))
	}
	if s.UpdatedAt.Before(before) {
		t.Error("UpdatedAt should advance")
	}
}

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	if a == "" || a == b {
		t.Errorf("request ids should be unique and non-empty: %q %q", a, b)
	}
}
