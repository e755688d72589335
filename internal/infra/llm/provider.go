// Package llm provides abstractions for Large Language Model providers.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider is the interface for LLM providers (Groq, OpenAI, Claude, etc.).
type Provider interface {
	// Complete sends a prompt and returns the completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name for logging.
	Name() string

	// Model returns the model being used.
	Model() string

	// Validate checks if the configuration is valid.
	Validate() error
}

// CompletionRequest represents a request to the LLM.
type CompletionRequest struct {
	// SystemPrompt is the system/instruction prompt.
	SystemPrompt string

	// UserPrompt is the user's input prompt.
	UserPrompt string

	// MaxTokens is the maximum tokens in the response.
	MaxTokens int

	// Temperature controls randomness (0.0-1.0).
	Temperature float64
}

// CompletionResponse represents a response from the LLM.
type CompletionResponse struct {
	// Content is the generated text.
	Content string

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// Model is the actual model used (may differ from requested).
	Model string

	// FinishReason indicates why the response ended.
	FinishReason string
}

// ProviderType represents supported LLM provider types.
type ProviderType string

const (
	ProviderTypeGroq        ProviderType = "groq"
	ProviderTypeOpenAI      ProviderType = "openai"
	ProviderTypeOpenRouter  ProviderType = "openrouter"
	ProviderTypeHuggingFace ProviderType = "huggingface"
	ProviderTypeCustom      ProviderType = "custom"
	ProviderTypeClaude      ProviderType = "claude"
)

// IsValid checks if the provider type is valid.
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderTypeGroq, ProviderTypeOpenAI, ProviderTypeOpenRouter,
		ProviderTypeHuggingFace, ProviderTypeCustom, ProviderTypeClaude:
		return true
	}
	return false
}

// IsChatCompletions reports whether the provider speaks the OpenAI chat completions protocol.
func (p ProviderType) IsChatCompletions() bool {
	return p.IsValid() && p != ProviderTypeClaude
}

// DefaultBaseURL returns the API root for hosted providers. Custom has none.
func (p ProviderType) DefaultBaseURL() string {
	switch p {
	case ProviderTypeGroq:
		return "https://api.groq.com/openai/v1"
	case ProviderTypeOpenAI:
		return "https://api.openai.com/v1"
	case ProviderTypeOpenRouter:
		return "https://openrouter.ai/api/v1"
	case ProviderTypeHuggingFace:
		return "https://router.huggingface.co/v1"
	case ProviderTypeClaude:
		return "https://api.anthropic.com/v1"
	}
	return ""
}

// DefaultModel returns the model used when none is configured.
func (p ProviderType) DefaultModel() string {
	switch p {
	case ProviderTypeGroq:
		return "llama-3.1-8b-instant"
	case ProviderTypeOpenAI:
		return "gpt-4o-mini"
	case ProviderTypeOpenRouter:
		return "meta-llama/llama-3.1-8b-instruct"
	case ProviderTypeHuggingFace:
		return "mistralai/Mistral-7B-Instruct-v0.2"
	case ProviderTypeClaude:
		return "claude-3-5-haiku-20241022"
	}
	return ""
}

// ProviderConfig holds configuration for creating a provider.
type ProviderConfig struct {
	Type      ProviderType
	BaseURL   string // Overrides DefaultBaseURL, required for custom
	Model     string
	Keys      *KeyPool
	Timeout   time.Duration
	RateLimit float64 // Requests per second, 0 disables pacing
}

// Errors
var (
	ErrProviderNotConfigured = fmt.Errorf("llm provider not configured")
	ErrInvalidProvider       = fmt.Errorf("invalid llm provider")
	ErrRateLimited           = fmt.Errorf("llm rate limited")
	ErrInvalidResponse       = fmt.Errorf("invalid llm response")
	ErrUpstream              = fmt.Errorf("llm upstream error")
)
