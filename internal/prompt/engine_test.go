// internal/prompt/engine_test.go
package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/user/convogate/internal/types"
)

func testState(history ...string) *types.SessionState {
	state := types.NewSessionState("telegram:1")
	for i, text := range history {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		state.History = append(state.History, types.HistoryEntry{
			Role: role, Text: text, At: time.Now(),
		})
	}
	return state
}

func TestNewEngine(t *testing.T) {
	e, err := New("gpt-4", 128000, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("expected non-nil engine")
	}
}

func TestNewEngineUnknownModelFallsBack(t *testing.T) {
	if _, err := New("mystery-model-9000", 8192, 512); err != nil {
		t.Fatalf("unknown model should fall back to cl100k_base: %v", err)
	}
}

func TestBuildMessagesBasic(t *testing.T) {
	e, err := New("gpt-4", 128000, 4096)
	if err != nil {
		t.Fatal(err)
	}

	state := testState("hello", "hi there")
	env := &types.Envelope{Conversation: "telegram:1", Sender: "alice", Text: "how are you?"}

	msgs := e.BuildMessages(state, env)
	if len(msgs) != 4 {
		t.Fatalf("expected system + 2 history + user, got %d messages", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first message should be system, got %s", msgs[0].Role)
	}
	if msgs[1].Content != "hello" || msgs[2].Content != "hi there" {
		t.Errorf("history out of order: %q, %q", msgs[1].Content, msgs[2].Content)
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" || last.Content != "how are you?" {
		t.Errorf("last message should be the envelope text, got %+v", last)
	}
}

func TestBuildMessagesRespectsBudget(t *testing.T) {
	// Tiny window: only the newest history should survive.
	e, err := New("gpt-4", 120, 20)
	if err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("alpha beta gamma delta ", 20)
	state := testState(long, "short old reply", long, "newest reply")
	env := &types.Envelope{Conversation: "telegram:1", Text: "next"}

	msgs := e.BuildMessages(state, env)
	for _, m := range msgs[1 : len(msgs)-1] {
		if m.Content == long {
			t.Error("oversized history entry should have been dropped")
		}
	}
	if msgs[len(msgs)-1].Content != "next" {
		t.Error("user turn must always be present")
	}
}

func TestBuildMessagesGroupPrompt(t *testing.T) {
	e, err := New("gpt-4", 128000, 4096)
	if err != nil {
		t.Fatal(err)
	}

	state := testState()
	state.MarkSeen("alice")
	state.MarkSeen("bob")
	env := &types.Envelope{Conversation: "telegram:1", Text: "hi"}

	msgs := e.BuildMessages(state, env)
	if !strings.Contains(msgs[0].Content, "group conversation") {
		t.Error("system prompt should mention the group when multiple users were seen")
	}
}

func TestBuildMessagesAttachments(t *testing.T) {
	e, err := New("gpt-4", 128000, 4096)
	if err != nil {
		t.Fatal(err)
	}

	env := &types.Envelope{
		Conversation: "telegram:1",
		Text:         "see this",
		Attachments:  []types.Attachment{{Name: "report.pdf"}},
	}
	msgs := e.BuildMessages(testState(), env)
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "report.pdf") {
		t.Errorf("attachment names should be described in the user turn, got %q", last.Content)
	}
}
