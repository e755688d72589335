package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SlackClient implements the Client interface for Slack incoming webhooks.
type SlackClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackClient creates a new Slack notification client.
func NewSlackClient(config Config) (*SlackClient, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is required")
	}

	return &SlackClient{
		webhookURL: config.WebhookURL,
		httpClient: &http.Client{
			Timeout: timeoutOrDefault(config.Timeout),
		},
	}, nil
}

// Provider returns the provider name.
func (c *SlackClient) Provider() string {
	return string(ProviderSlack)
}

type slackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackBlock struct {
	Type     string          `json:"type"`
	Text     *slackTextBlock `json:"text,omitempty"`
	Elements []slackElement  `json:"elements,omitempty"`
	Fields   []slackField    `json:"fields,omitempty"`
}

type slackTextBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackElement struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type slackField struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

// Send sends a notification message to Slack.
func (c *SlackClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	payload, err := json.Marshal(c.buildMessage(msg))
	if err != nil {
		return nil, fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("send request failed: %v", err),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("slack returned status %d: %s", resp.StatusCode, string(body)),
		}, nil
	}

	return &SendResult{Success: true}, nil
}

// TestConnection tests the Slack webhook configuration.
func (c *SlackClient) TestConnection(ctx context.Context) (*SendResult, error) {
	return c.Send(ctx, Message{
		Title:    "Vigilis Test Notification",
		Body:     "Slack alerts are configured.",
		Severity: SeverityLow,
	})
}

// buildMessage renders msg as Block Kit inside a colored attachment.
func (c *SlackClient) buildMessage(msg Message) slackMessage {
	blocks := make([]slackBlock, 0, 4)

	if msg.Title != "" {
		blocks = append(blocks, slackBlock{
			Type: "header",
			Text: &slackTextBlock{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s %s", GetSeverityEmoji(msg.Severity), msg.Title),
				Emoji: true,
			},
		})
	}

	if msg.Body != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackTextBlock{Type: "mrkdwn", Text: msg.Body},
		})
	}

	if len(msg.Fields) > 0 {
		fields := make([]slackField, 0, len(msg.Fields))
		for _, f := range msg.Fields {
			fields = append(fields, slackField{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*%s:*\n%s", f.Name, f.Value),
			})
		}
		blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	}

	if msg.FooterText != "" {
		blocks = append(blocks, slackBlock{
			Type:     "context",
			Elements: []slackElement{{Type: "mrkdwn", Text: msg.FooterText}},
		})
	}

	return slackMessage{
		// Fallback for clients that do not render blocks.
		Text: msg.Title,
		Attachments: []slackAttachment{
			{Color: GetSeverityColor(msg.Severity), Blocks: blocks},
		},
	}
}
