package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TelegramClient implements the Client interface for Telegram notifications.
type TelegramClient struct {
	botToken   string
	chatID     string
	apiURL     string
	httpClient *http.Client
}

// NewTelegramClient creates a new Telegram notification client.
func NewTelegramClient(config Config) (*TelegramClient, error) {
	if config.ChatID == "" {
		return nil, fmt.Errorf("telegram chat ID is required")
	}
	return NewTelegramBot(config)
}

// NewTelegramBot creates a Telegram client that may not have a default chat.
// Use ForChat to address a chat before sending.
func NewTelegramBot(config Config) (*TelegramClient, error) {
	if config.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	apiURL := config.APIEndpoint
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}

	return &TelegramClient{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		apiURL:   strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: timeoutOrDefault(config.Timeout),
		},
	}, nil
}

// ForChat returns a client sharing this bot and transport but addressing chatID.
func (c *TelegramClient) ForChat(chatID string) *TelegramClient {
	clone := *c
	clone.chatID = chatID
	return &clone
}

// ChatID returns the chat this client posts to.
func (c *TelegramClient) ChatID() string {
	return c.chatID
}

// Provider returns the provider name.
func (c *TelegramClient) Provider() string {
	return string(ProviderTelegram)
}

type telegramSendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Result      struct {
		MessageID int `json:"message_id"`
	} `json:"result,omitempty"`
}

// Send sends a notification message to Telegram.
func (c *TelegramClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	payload, err := json.Marshal(c.buildMessage(msg))
	if err != nil {
		return nil, fmt.Errorf("marshal telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The request URL embeds the bot token.
		return &SendResult{
			Success: false,
			Error:   "send request failed: " + strings.ReplaceAll(err.Error(), c.botToken, "[REDACTED]"),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var telegramResp telegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("parse response failed (status %d): %v", resp.StatusCode, err),
		}, nil
	}

	if !telegramResp.OK {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("telegram error: %s", telegramResp.Description),
		}, nil
	}

	return &SendResult{
		Success:   true,
		MessageID: fmt.Sprintf("%d", telegramResp.Result.MessageID),
	}, nil
}

// TestConnection tests the Telegram bot configuration.
func (c *TelegramClient) TestConnection(ctx context.Context) (*SendResult, error) {
	return c.Send(ctx, Message{
		Title:    "Vigilis Test Notification",
		Body:     "Telegram alerts are configured.",
		Severity: SeverityLow,
	})
}

// buildMessage renders msg as Telegram Markdown.
func (c *TelegramClient) buildMessage(msg Message) telegramSendMessageRequest {
	var sb strings.Builder

	if msg.Title != "" {
		fmt.Fprintf(&sb, "%s *%s*\n\n", GetSeverityEmoji(msg.Severity), escapeMarkdown(msg.Title))
	}
	if msg.Body != "" {
		sb.WriteString(escapeMarkdown(msg.Body))
		sb.WriteString("\n\n")
	}
	for _, f := range msg.Fields {
		fmt.Fprintf(&sb, "%s: %s\n", escapeMarkdown(f.Name), escapeMarkdown(f.Value))
	}
	if msg.FooterText != "" {
		if len(msg.Fields) > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "_%s_", escapeMarkdown(msg.FooterText))
	}

	return telegramSendMessageRequest{
		ChatID:                c.chatID,
		Text:                  strings.TrimRight(sb.String(), "\n"),
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	}
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return replacer.Replace(text)
}
