package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/convogate/internal/session"
	"github.com/user/convogate/internal/types"
)

const maxTelegramMessage = 4096

// Gateway is the slice of the orchestrator the adapter needs: inbound
// admission plus the session store for /status.
type Gateway interface {
	Handle(ctx context.Context, env *types.Envelope) error
	Sessions() *session.Store
}

// Adapter bridges Telegram to the admission gateway. It is both a
// producer (long-polled updates become envelopes) and a types.Sender
// for targets with the "telegram:" prefix.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	gateway Gateway
	selfID  int64
	selfTag string
}

// New creates a Telegram adapter.
func New(token string, gw Gateway) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:     bot,
		gateway: gw,
		selfID:  bot.Self.ID,
		selfTag: "@" + bot.Self.UserName,
	}, nil
}

// Start begins long-polling for Telegram updates. Each message is
// admitted on its own goroutine: admission blocks for the duration of
// the conversation's processing pass, and one slow conversation must
// not stall the poll loop.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || (update.Message.Text == "" && update.Message.Caption == "") {
				continue
			}
			if update.Message.IsCommand() {
				a.handleCommand(ctx, update.Message)
				continue
			}
			env := a.envelope(update.Message)
			go func() {
				if err := a.gateway.Handle(ctx, env); err != nil {
					slog.Error("inbound admission failed", "conversation", env.Conversation, "error", err)
				}
			}()
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// envelope converts a Telegram message into an inbound envelope. The
// conversation key is the chat, so everyone in a group shares one
// session.
func (a *Adapter) envelope(msg *tgbotapi.Message) *types.Envelope {
	key := buildConversationKey(msg.Chat.ID)
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	env := &types.Envelope{
		ID:            types.NewRequestID(),
		Conversation:  key,
		Sender:        senderName(msg),
		Text:          text,
		Target:        string(key),
		ShouldRespond: a.shouldRespond(msg),
		SourceID:      types.MessageID(strconv.Itoa(msg.MessageID)),
		EnqueuedAt:    time.Now(),
	}
	if msg.Document != nil {
		env.Attachments = append(env.Attachments, types.Attachment{
			Name:     msg.Document.FileName,
			MimeType: msg.Document.MimeType,
		})
	}
	return env
}

// shouldRespond is true for private chats; in groups only when the bot
// is mentioned or the message replies to one of its own.
func (a *Adapter) shouldRespond(msg *tgbotapi.Message) bool {
	if msg.Chat.IsPrivate() {
		return true
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == a.selfID {
		return true
	}
	return strings.Contains(msg.Text, a.selfTag)
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! Send me a message and I'll respond. In groups, mention me.")

	case "status":
		key := buildConversationKey(chatID)
		state, ok := a.gateway.Sessions().Get(key)
		if !ok {
			a.sendResponse(chatID, "No active conversation yet.")
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Conversation: %s\nHistory entries: %d\nParticipants: %d",
			key, len(state.History), len(state.SeenUsers)))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /status")
	}
}

// Deliver implements types.Sender for "telegram:<chatID>" targets.
func (a *Adapter) Deliver(_ context.Context, target, text string) (types.MessageID, error) {
	raw, ok := strings.CutPrefix(target, "telegram:")
	if !ok {
		return "", fmt.Errorf("not a telegram target: %s", target)
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad telegram target %q: %w", target, err)
	}

	var lastID int
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		sent, err := a.bot.Send(msg)
		if err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			sent, err = a.bot.Send(msg)
			if err != nil {
				return "", fmt.Errorf("send message: %w", err)
			}
		}
		lastID = sent.MessageID
	}
	return types.MessageID(strconv.Itoa(lastID)), nil
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	if _, err := a.Deliver(context.Background(), "telegram:"+strconv.FormatInt(chatID, 10), text); err != nil {
		slog.Error("send response failed", "chat", chatID, "error", err)
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func senderName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return "unknown"
	}
	if msg.From.UserName != "" {
		return msg.From.UserName
	}
	return strconv.FormatInt(msg.From.ID, 10)
}

func buildConversationKey(chatID int64) types.ConversationKey {
	return types.NewConversationKey("telegram", strconv.FormatInt(chatID, 10))
}
