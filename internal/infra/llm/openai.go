package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxProviderBody caps how much of a provider response is read.
const maxProviderBody = 1 << 20

// OpenAIProvider implements Provider for any endpoint speaking the OpenAI
// chat completions protocol (Groq, OpenAI, OpenRouter, Hugging Face router,
// self-hosted gateways). Each call is a single attempt.
type OpenAIProvider struct {
	name       string
	endpoint   string
	model      string
	keys       *KeyPool
	httpClient *http.Client
}

// OpenAIConfig holds configuration for an OpenAI-compatible provider.
type OpenAIConfig struct {
	Name    string // Reported by Name(), defaults to "openai"
	BaseURL string // API root, e.g. https://api.groq.com/openai/v1
	Model   string
	Keys    *KeyPool
	Timeout time.Duration

	// AllowAnonymous permits a pool without keys (self-hosted gateways).
	AllowAnonymous bool
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrProviderNotConfigured)
	}
	if cfg.Keys.Len() == 0 && !cfg.AllowAnonymous {
		return nil, fmt.Errorf("%w: API key is required", ErrProviderNotConfigured)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrProviderNotConfigured)
	}

	name := cfg.Name
	if name == "" {
		name = string(ProviderTypeOpenAI)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}

	return &OpenAIProvider{
		name:       name,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		model:      cfg.Model,
		keys:       cfg.Keys,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the model being used.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Validate checks if the configuration is valid.
func (p *OpenAIProvider) Validate() error {
	if p.endpoint == "" || p.model == "" {
		return fmt.Errorf("%w: endpoint and model are required", ErrProviderNotConfigured)
	}
	return nil
}

// Complete sends a prompt and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.UserPrompt})

	body := openAIRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := p.keys.Next(); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w", p.name, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp openAIErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("%w: %s status %d: %s", ErrUpstream, p.name, resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("%w: %s status %d", ErrUpstream, p.name, resp.StatusCode)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidResponse, p.name, err)
	}
	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s: no choices in response", ErrInvalidResponse, p.name)
	}

	return &CompletionResponse{
		Content:          openAIResp.Choices[0].Message.Content,
		PromptTokens:     openAIResp.Usage.PromptTokens,
		CompletionTokens: openAIResp.Usage.CompletionTokens,
		TotalTokens:      openAIResp.Usage.TotalTokens,
		Model:            openAIResp.Model,
		FinishReason:     openAIResp.Choices[0].FinishReason,
	}, nil
}

// Chat completions request/response structures

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
