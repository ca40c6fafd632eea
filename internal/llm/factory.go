package llm

import (
	"fmt"
	"strings"

	"github.com/claimlens/claimlens/internal/model"
)

// NewProvider creates a single LLM provider by name
func NewProvider(name string, settings ProviderSettings) (Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return NewOpenAIProvider(settings)

	case "anthropic", "claude":
		return NewAnthropicProvider(settings)

	case "ollama":
		return NewOllamaProvider(settings)

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, anthropic, ollama)", name)
	}
}

// settingsFor merges per-provider config with the shared proxy settings
func settingsFor(pc model.ProviderConfig, httpCfg model.HTTPConfig) ProviderSettings {
	return ProviderSettings{
		APIKey:     pc.APIKey,
		BaseURL:    pc.BaseURL,
		Timeout:    pc.Timeout,
		HTTPProxy:  httpCfg.HTTPProxy,
		HTTPSProxy: httpCfg.HTTPSProxy,
		NoProxy:    httpCfg.NoProxy,
	}
}

// buildProviders constructs every provider named anywhere in the gateway
// configuration (default, fallback, role entries). A provider that fails to
// construct is skipped; resolution onto it later yields a typed Failure.
func buildProviders(cfg model.LLMConfig, httpCfg model.HTTPConfig) map[string]Provider {
	wanted := map[string]bool{}
	if cfg.Default.Provider != "" {
		wanted[cfg.Default.Provider] = true
	}
	if cfg.Fallback.Provider != "" {
		wanted[cfg.Fallback.Provider] = true
	}
	for _, ref := range cfg.Roles {
		if ref.Provider != "" {
			wanted[ref.Provider] = true
		}
	}

	providers := make(map[string]Provider, len(wanted))
	for name := range wanted {
		p, err := NewProvider(name, settingsFor(cfg.Providers[name], httpCfg))
		if err != nil {
			continue
		}
		providers[name] = p
	}
	return providers
}
