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

const claudeAPIVersion = "2023-06-01"

// ClaudeProvider implements the Provider interface for Anthropic's messages API.
type ClaudeProvider struct {
	endpoint   string
	model      string
	keys       *KeyPool
	httpClient *http.Client
}

// ClaudeConfig holds configuration for Claude provider.
type ClaudeConfig struct {
	BaseURL string
	Model   string
	Keys    *KeyPool
	Timeout time.Duration
}

// NewClaudeProvider creates a new Claude provider.
func NewClaudeProvider(cfg ClaudeConfig) (*ClaudeProvider, error) {
	if cfg.Keys.Len() == 0 {
		return nil, fmt.Errorf("%w: API key is required", ErrProviderNotConfigured)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ProviderTypeClaude.DefaultBaseURL()
	}

	model := cfg.Model
	if model == "" {
		model = ProviderTypeClaude.DefaultModel()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}

	return &ClaudeProvider{
		endpoint:   strings.TrimRight(baseURL, "/") + "/messages",
		model:      model,
		keys:       cfg.Keys,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the provider name.
func (p *ClaudeProvider) Name() string {
	return string(ProviderTypeClaude)
}

// Model returns the model being used.
func (p *ClaudeProvider) Model() string {
	return p.model
}

// Validate checks if the configuration is valid.
func (p *ClaudeProvider) Validate() error {
	if p.keys.Len() == 0 {
		return fmt.Errorf("%w: API key is required", ErrProviderNotConfigured)
	}
	return nil
}

// Complete sends a prompt to Claude and returns the completion.
func (p *ClaudeProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	// max_tokens is mandatory on this API.
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 256
	}

	body := claudeRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      req.SystemPrompt,
		Messages: []claudeMessage{
			{Role: "user", Content: req.UserPrompt},
		},
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
	httpReq.Header.Set("x-api-key", p.keys.Next())
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("claude request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("claude: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp claudeErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("%w: claude %s - %s", ErrUpstream, errResp.Error.Type, errResp.Error.Message)
		}
		return nil, fmt.Errorf("%w: claude status %d", ErrUpstream, resp.StatusCode)
	}

	var claudeResp claudeResponse
	if err := json.Unmarshal(respBody, &claudeResp); err != nil {
		return nil, fmt.Errorf("%w: claude: %v", ErrInvalidResponse, err)
	}

	var content strings.Builder
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &CompletionResponse{
		Content:          content.String(),
		PromptTokens:     claudeResp.Usage.InputTokens,
		CompletionTokens: claudeResp.Usage.OutputTokens,
		TotalTokens:      claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
		Model:            claudeResp.Model,
		FinishReason:     claudeResp.StopReason,
	}, nil
}

// Claude API request/response structures

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      claudeUsage    `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
