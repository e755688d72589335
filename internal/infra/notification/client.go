// Package notification provides clients for delivering compromise alerts.
package notification

import (
	"context"
	"fmt"
	"time"
)

// Message represents a notification message.
type Message struct {
	Title      string  // Message title/subject
	Body       string  // Main message body
	Severity   string  // critical, high, medium, low
	Fields     []Field // Ordered key/value lines
	FooterText string  // Optional footer text
}

// Field is one labelled line of a message.
type Field struct {
	Name  string
	Value string
}

// SendResult represents the result of sending a notification.
type SendResult struct {
	Success   bool
	MessageID string // Provider-specific message ID
	Error     string
}

// Client defines the interface for notification providers.
//
// Send returns an error only for local failures (marshalling, request
// construction). Delivery failures are reported through SendResult.
type Client interface {
	// Send sends a notification message.
	Send(ctx context.Context, msg Message) (*SendResult, error)

	// TestConnection sends a test message.
	TestConnection(ctx context.Context) (*SendResult, error)

	// Provider returns the provider name.
	Provider() string
}

// Config holds the configuration for creating a notification client.
type Config struct {
	Provider      Provider
	WebhookURL    string // Slack or generic webhook
	WebhookSecret string // Generic webhook HMAC key
	BotToken      string // Telegram
	ChatID        string // Telegram
	APIEndpoint   string // Telegram API root override
	Timeout       time.Duration
	Email         *EmailConfig
}

// Provider represents a notification provider.
type Provider string

const (
	ProviderSlack    Provider = "slack"
	ProviderTelegram Provider = "telegram"
	ProviderWebhook  Provider = "webhook"
	ProviderEmail    Provider = "email"
)

// Severity constants.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// NewClient creates a notification client for config.Provider.
func NewClient(config Config) (Client, error) {
	switch config.Provider {
	case ProviderSlack:
		return NewSlackClient(config)
	case ProviderTelegram:
		return NewTelegramClient(config)
	case ProviderWebhook:
		return NewWebhookClient(config)
	case ProviderEmail:
		return NewEmailClient(config)
	default:
		return nil, fmt.Errorf("unsupported notification provider: %s", config.Provider)
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetSeverityColor returns a hex color for the given severity.
func GetSeverityColor(severity string) string {
	switch severity {
	case SeverityCritical:
		return "#dc2626"
	case SeverityHigh:
		return "#ea580c"
	case SeverityMedium:
		return "#ca8a04"
	case SeverityLow:
		return "#2563eb"
	default:
		return "#6b7280"
	}
}

// GetSeverityEmoji returns an emoji for the given severity.
func GetSeverityEmoji(severity string) string {
	switch severity {
	case SeverityCritical:
		return "\U0001F6A8"
	case SeverityHigh:
		return "\U000026A0\U0000FE0F"
	case SeverityMedium:
		return "\U0001F7E1"
	case SeverityLow:
		return "\U0001F535"
	default:
		return "\U00002139"
	}
}
