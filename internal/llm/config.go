// Package llm provides centralized LLM configuration and client abstractions
// for the evaluator agents.
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for simple tasks: document classification, country detection
	TierLite ModelTier = "lite"
	// TierStandard is for moderate reasoning: per-aspect applicant scoring
	TierStandard ModelTier = "standard"
	// TierAdvanced is for complex reasoning: degree equivalency, pairwise judging
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
	// ProviderOpenAI is the OpenAI provider (future)
	ProviderOpenAI Provider = "openai"
)

// Config holds the model configuration for the application
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
	}
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	return c.Models[TierLite]
}

// WithOverrides returns a copy of the config with per-tier model overrides
// applied. Unknown tiers are ignored; an empty map is a no-op.
func (c *Config) WithOverrides(overrides map[ModelTier]string) *Config {
	if len(overrides) == 0 {
		return c
	}
	models := make(map[ModelTier]string, len(c.Models))
	for tier, model := range c.Models {
		models[tier] = model
	}
	for tier, model := range overrides {
		if model != "" {
			models[tier] = model
		}
	}
	return &Config{Provider: c.Provider, Models: models}
}
