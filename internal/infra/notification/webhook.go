package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Vigilis-Signature"

// WebhookClient implements the Client interface for generic webhook notifications.
type WebhookClient struct {
	webhookURL string
	secret     []byte
	httpClient *http.Client
	now        func() time.Time
}

// NewWebhookClient creates a new generic webhook notification client.
func NewWebhookClient(config Config) (*WebhookClient, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	var secret []byte
	if config.WebhookSecret != "" {
		secret = []byte(config.WebhookSecret)
	}

	return &WebhookClient{
		webhookURL: config.WebhookURL,
		secret:     secret,
		httpClient: &http.Client{
			Timeout: timeoutOrDefault(config.Timeout),
		},
		now: time.Now,
	}, nil
}

// Provider returns the provider name.
func (c *WebhookClient) Provider() string {
	return string(ProviderWebhook)
}

// WebhookPayload represents the JSON payload sent to the webhook.
type WebhookPayload struct {
	EventType  string            `json:"event_type"`
	Timestamp  string            `json:"timestamp"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Severity   string            `json:"severity"`
	Fields     map[string]string `json:"fields,omitempty"`
	FooterText string            `json:"footer_text,omitempty"`
	Source     string            `json:"source"`
}

// Send sends a notification message to the webhook.
func (c *WebhookClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	payloadBytes, err := json.Marshal(c.buildPayload(msg))
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vigilis-Alert/1.0")
	if len(c.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(c.secret, payloadBytes))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("send request failed: %v", err),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("webhook returned status %d: %s", resp.StatusCode, string(body)),
		}, nil
	}

	return &SendResult{Success: true}, nil
}

// TestConnection tests the webhook configuration.
func (c *WebhookClient) TestConnection(ctx context.Context) (*SendResult, error) {
	return c.Send(ctx, Message{
		Title:    "Vigilis Test Notification",
		Body:     "Webhook alerts are configured.",
		Severity: SeverityLow,
	})
}

func (c *WebhookClient) buildPayload(msg Message) WebhookPayload {
	var fields map[string]string
	if len(msg.Fields) > 0 {
		fields = make(map[string]string, len(msg.Fields))
		for _, f := range msg.Fields {
			fields[f.Name] = f.Value
		}
	}

	return WebhookPayload{
		EventType:  "alert",
		Timestamp:  c.now().UTC().Format(time.RFC3339),
		Title:      msg.Title,
		Body:       msg.Body,
		Severity:   msg.Severity,
		Fields:     fields,
		FooterText: msg.FooterText,
		Source:     "vigilis",
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
