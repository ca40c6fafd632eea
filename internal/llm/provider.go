package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete runs a single completion request against the provider
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest is the provider-agnostic input for one model call
type CompletionRequest struct {
	// Model is the provider-specific model name
	Model string

	// System is the system prompt
	System string

	// Prompt is the user prompt
	Prompt string

	// Temperature for sampling; 0 means the gateway default
	Temperature float64

	// MaxTokens limits the response length
	MaxTokens int
}

// CompletionResponse is the raw provider output
type CompletionResponse struct {
	// Text is the completion text
	Text string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// ProviderSettings holds per-provider credentials and transport options
type ProviderSettings struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// CapacityError marks a provider-level capacity or rate-limit condition. The
// gateway reacts to it by substituting the configured fallback model for the
// current call instead of propagating the error.
type CapacityError struct {
	Provider string
	Status   int
	Message  string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s capacity: status %d: %s", e.Provider, e.Status, e.Message)
}

// capacityStatus reports whether an HTTP status signals capacity pressure
func capacityStatus(status int) bool {
	switch status {
	case 429, 503, 529:
		return true
	}
	return false
}
