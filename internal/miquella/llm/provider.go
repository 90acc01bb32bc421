// Package llm wraps the completion APIs the bot can talk to behind a single
// Provider interface. Each call is one system prompt plus one user message;
// the bot never holds a multi-turn exchange with the model.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is one completion call.
type Request struct {
	Model       string
	Temperature float64
	// MaxTokens caps the reply length; zero leaves it to the provider
	// (Anthropic requires a value, see DefaultAnthropicMaxTokens).
	MaxTokens int
	System    string
	User      string
}

// Provider produces a completion for a Request.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "openai" (any OpenAI-compatible endpoint, OpenRouter by
	// default) or "anthropic".
	Provider string
	APIKey   string
	BaseURL  string
}

// New returns the provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL}), nil
	case "anthropic":
		return NewAnthropic(AnthropicConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL}), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
