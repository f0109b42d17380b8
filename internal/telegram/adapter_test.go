package telegram

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestBuildConversationKey(t *testing.T) {
	key := buildConversationKey(67890)
	if string(key) != "telegram:67890" {
		t.Errorf("expected 'telegram:67890', got %q", key)
	}
}

func groupMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 100, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: -500, Type: "group"},
		Text:      text,
	}
}

func TestShouldRespond(t *testing.T) {
	a := &Adapter{selfID: 42, selfTag: "@convogate_bot"}

	private := &tgbotapi.Message{
		From: &tgbotapi.User{ID: 100},
		Chat: &tgbotapi.Chat{ID: 100, Type: "private"},
		Text: "hello",
	}
	if !a.shouldRespond(private) {
		t.Error("private chats always get a response")
	}

	if a.shouldRespond(groupMessage("just chatting")) {
		t.Error("unaddressed group messages should not get a response")
	}
	if !a.shouldRespond(groupMessage("hey @convogate_bot what do you think")) {
		t.Error("mentions should get a response")
	}

	reply := groupMessage("and you?")
	reply.ReplyToMessage = &tgbotapi.Message{From: &tgbotapi.User{ID: 42}}
	if !a.shouldRespond(reply) {
		t.Error("replies to the bot should get a response")
	}
}

func TestEnvelopeFromMessage(t *testing.T) {
	a := &Adapter{selfID: 42, selfTag: "@convogate_bot"}
	msg := groupMessage("@convogate_bot summarize this")
	msg.Document = &tgbotapi.Document{FileName: "notes.txt", MimeType: "text/plain"}

	env := a.envelope(msg)
	if env.ID == "" {
		t.Error("expected a request id")
	}
	if string(env.Conversation) != "telegram:-500" {
		t.Errorf("unexpected conversation key %q", env.Conversation)
	}
	if env.Sender != "alice" {
		t.Errorf("expected sender alice, got %q", env.Sender)
	}
	if env.Target != "telegram:-500" {
		t.Errorf("target should mirror the conversation, got %q", env.Target)
	}
	if !env.ShouldRespond {
		t.Error("mention should set ShouldRespond")
	}
	if env.SourceID != "7" {
		t.Errorf("expected source id 7, got %q", env.SourceID)
	}
	if len(env.Attachments) != 1 || env.Attachments[0].Name != "notes.txt" {
		t.Errorf("document should carry over as attachment: %+v", env.Attachments)
	}
}

func TestEnvelopeUsesCaptionWhenNoText(t *testing.T) {
	a := &Adapter{selfID: 42, selfTag: "@convogate_bot"}
	msg := groupMessage("")
	msg.Caption = "look at this"

	env := a.envelope(msg)
	if env.Text != "look at this" {
		t.Errorf("expected caption as text, got %q", env.Text)
	}
}
