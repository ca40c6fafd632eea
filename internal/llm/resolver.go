package llm

import "github.com/claimlens/claimlens/internal/model"

// ModelChoice is a resolved provider/model pair for one call
type ModelChoice struct {
	Provider string
	Model    string
}

// ModelOverride is an explicit per-call provider/model request. Either field
// may be empty, in which case the resolved value fills it.
type ModelOverride struct {
	Provider string
	Model    string
}

// ModelResolver picks the effective provider and model for a debate role.
// Priority: explicit per-call override, then the configured role entry, then
// the global default.
type ModelResolver interface {
	Resolve(role string, override *ModelOverride) ModelChoice
}

type configResolver struct {
	cfg model.LLMConfig
}

// NewConfigResolver builds the standard configuration-backed resolver
func NewConfigResolver(cfg model.LLMConfig) ModelResolver {
	return &configResolver{cfg: cfg}
}

// Resolve applies the override > role > default priority order
func (r *configResolver) Resolve(role string, override *ModelOverride) ModelChoice {
	choice := ModelChoice{
		Provider: r.cfg.Default.Provider,
		Model:    r.cfg.Default.Model,
	}

	if ref, ok := r.cfg.Roles[role]; ok {
		if ref.Provider != "" {
			choice.Provider = ref.Provider
		}
		if ref.Model != "" {
			choice.Model = ref.Model
		}
	}

	if override != nil {
		if override.Provider != "" {
			choice.Provider = override.Provider
		}
		if override.Model != "" {
			choice.Model = override.Model
		}
	}

	return choice
}
