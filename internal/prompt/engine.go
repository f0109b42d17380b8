// internal/prompt/engine.go
package prompt

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/convogate/internal/types"
	"github.com/user/convogate/pkg/llm"
)

// Engine assembles token-budgeted inference requests from session history.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New creates an engine with the given token budget. model selects the
// tokenizer ("gpt-4" etc.); maxTokens is the model's context window;
// reserve is held back for the model's response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// BuildMessages assembles the request for one processing pass: system
// prompt, as much history as the budget allows (newest first retained),
// then the envelope's text as the user turn.
func (e *Engine) BuildMessages(state *types.SessionState, env *types.Envelope) []llm.Message {
	sysPrompt := buildSystemPrompt(state)
	userText := env.Text
	if len(env.Attachments) > 0 {
		userText = userText + "\n" + describeAttachments(env.Attachments)
	}

	budget := e.maxTokens - e.reserve - e.countTokens(sysPrompt) - e.countTokens(userText)

	// Walk history newest to oldest so the most recent turns survive when
	// the budget runs out.
	var kept []llm.Message
	used := 0
	for i := len(state.History) - 1; i >= 0; i-- {
		entry := state.History[i]
		n := e.countTokens(entry.Text)
		if used+n > budget {
			break
		}
		kept = append(kept, llm.Message{Role: entry.Role, Content: entry.Text})
		used += n
	}

	messages := make([]llm.Message, 0, len(kept)+2)
	messages = append(messages, llm.Message{Role: "system", Content: sysPrompt})
	for i := len(kept) - 1; i >= 0; i-- {
		messages = append(messages, kept[i])
	}
	messages = append(messages, llm.Message{Role: "user", Content: userText})
	return messages
}

func buildSystemPrompt(state *types.SessionState) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant in an ongoing chat conversation.\n")
	b.WriteString("Answer the latest message, using the prior turns for context.\n")
	if len(state.SeenUsers) > 1 {
		users := make([]string, 0, len(state.SeenUsers))
		for u := range state.SeenUsers {
			users = append(users, u)
		}
		fmt.Fprintf(&b, "This is a group conversation with participants: %s.\n", strings.Join(users, ", "))
	}
	return b.String()
}

func describeAttachments(atts []types.Attachment) string {
	names := make([]string, len(atts))
	for i, a := range atts {
		names[i] = a.Name
	}
	return fmt.Sprintf("[attachments: %s]", strings.Join(names, ", "))
}
