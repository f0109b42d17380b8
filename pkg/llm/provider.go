package llm

import "context"

// Provider is the inference backend consumed by the orchestrator.
// Implementations handle protocol-specific details such as request
// formatting, authentication, and response parsing. Failures should be
// wrapped around the typed errors in errors.go so callers can classify
// them without string matching.
type Provider interface {
	// Complete sends a chat completion request and returns the full
	// response. The context carries the caller-supplied timeout.
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
