// Package llm abstracts the chat-completion providers used for SQL
// generation, result interpretation, and summarization. Anthropic and Gemini
// have native SDK clients; DeepSeek, Qwen, and OpenAI itself share the
// OpenAI-compatible HTTP client with different base URLs.
package llm

import (
	"context"
	"errors"
)

// Provider errors.
var (
	ErrNoAPIKey          = errors.New("no API key configured for provider")
	ErrUnknownProvider   = errors.New("unknown LLM provider")
	ErrEmptyCompletion   = errors.New("provider returned an empty completion")
	ErrProviderExhausted = errors.New("provider request failed after retries")
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation passed to the provider.
type Turn struct {
	Role    string
	Content string
}

// Provider produces chat completions.
type Provider interface {
	// Name identifies the provider for logging and benchmark output.
	Name() string

	// Chat sends the system prompt and conversation turns, returning the
	// assistant's text completion.
	Chat(ctx context.Context, system string, turns []Turn) (string, error)
}

// UserTurn is a convenience constructor for single-prompt calls.
func UserTurn(content string) []Turn {
	return []Turn{{Role: RoleUser, Content: content}}
}
