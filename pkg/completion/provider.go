package completion

import (
	"context"
	"fmt"
)

// Provider names
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Message roles understood by providers
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes one completion request
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// Message is one chat message sent to a provider. Name is the speaker;
// providers without a participant name field ignore it.
type Message struct {
	Role    string
	Name    string
	Content string
}

// LLMRequest contains the request parameters for one call
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
}

// LLMResponse contains the response from a provider
type LLMResponse struct {
	Content string
	Usage   TokenUsage
}

// TokenUsage reports token counts when the provider returns them
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Profile selects and authenticates a provider
type Profile struct {
	Provider string
	APIKey   string
	// BaseURL overrides the vendor endpoint, e.g. a local OpenAI-compatible server
	BaseURL string
}

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates a provider for profile
func (f *ProviderFactory) NewProvider(profile Profile) (LLMProvider, error) {
	switch profile.Provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
