package llm

import (
	"fmt"

	"github.com/vigilis/sentinel/internal/config"
)

// FromConfig converts an env provider block into a ProviderConfig.
func FromConfig(cfg config.ProviderConfig) ProviderConfig {
	return ProviderConfig{
		Type:      ProviderType(cfg.Type),
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		Keys:      NewKeyPool(cfg.APIKeys, KeyStrategy(cfg.KeyStrategy)),
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
	}
}

// NewProvider creates a provider from cfg, wrapped with pacing when
// cfg.RateLimit is set.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if !cfg.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown provider type: %q", ErrInvalidProvider, cfg.Type)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = cfg.Type.DefaultBaseURL()
	}
	model := cfg.Model
	if model == "" {
		model = cfg.Type.DefaultModel()
	}

	var (
		p   Provider
		err error
	)
	if cfg.Type == ProviderTypeClaude {
		p, err = NewClaudeProvider(ClaudeConfig{
			BaseURL: baseURL,
			Model:   model,
			Keys:    cfg.Keys,
			Timeout: cfg.Timeout,
		})
	} else {
		p, err = NewOpenAIProvider(OpenAIConfig{
			Name:           string(cfg.Type),
			BaseURL:        baseURL,
			Model:          model,
			Keys:           cfg.Keys,
			Timeout:        cfg.Timeout,
			AllowAnonymous: cfg.Type == ProviderTypeCustom,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Type, err)
	}

	return NewPacedProvider(p, cfg.RateLimit, 1), nil
}

// NewChain creates the ordered judge chain. Any invalid entry fails the
// whole chain so a misconfiguration is caught at startup.
func NewChain(cfgs []config.ProviderConfig) ([]Provider, error) {
	chain := make([]Provider, 0, len(cfgs))
	for i, c := range cfgs {
		p, err := NewProvider(FromConfig(c))
		if err != nil {
			return nil, fmt.Errorf("judge provider %d: %w", i+1, err)
		}
		chain = append(chain, p)
	}
	return chain, nil
}
