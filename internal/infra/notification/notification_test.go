package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alertMessage() Message {
	return Message{
		Title:    "VIGILIS NEURAL ALERT",
		Body:     "Target: Shop_Bot\nStatus: *COMPROMISED*",
		Severity: SeverityCritical,
		Fields: []Field{
			{Name: "Client", Value: "c-1"},
			{Name: "Reason", Value: "judge flagged compliance"},
		},
		FooterText: "Check dashboard for full report.",
	}
}

// =============================================================================
// Telegram
// =============================================================================

func TestTelegramClient_Send(t *testing.T) {
	var got telegramSendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:ABC/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77}}`))
	}))
	defer server.Close()

	client, err := NewTelegramClient(Config{BotToken: "123:ABC", ChatID: "-100", APIEndpoint: server.URL + "/"})
	require.NoError(t, err)

	result, err := client.Send(context.Background(), alertMessage())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "77", result.MessageID)

	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "Markdown", got.ParseMode)
	assert.True(t, strings.HasPrefix(got.Text, GetSeverityEmoji(SeverityCritical)+" *VIGILIS NEURAL ALERT*"))
	assert.Contains(t, got.Text, "Target: Shop\\_Bot")
	assert.Contains(t, got.Text, "Status: \\*COMPROMISED\\*")
	assert.Contains(t, got.Text, "Client: c-1\nReason: judge flagged compliance")
	assert.True(t, strings.HasSuffix(got.Text, "_Check dashboard for full report._"))
}

func TestTelegramClient_ForChat(t *testing.T) {
	var chats []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req telegramSendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		chats = append(chats, req.ChatID)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer server.Close()

	operator, err := NewTelegramClient(Config{BotToken: "t", ChatID: "operator", APIEndpoint: server.URL})
	require.NoError(t, err)
	owner := operator.ForChat("555")

	_, err = operator.Send(context.Background(), alertMessage())
	require.NoError(t, err)
	_, err = owner.Send(context.Background(), alertMessage())
	require.NoError(t, err)

	assert.Equal(t, []string{"operator", "555"}, chats)
	assert.Equal(t, "operator", operator.ChatID())
}

func TestTelegramClient_DeliveryFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	client, err := NewTelegramClient(Config{BotToken: "secret-token", ChatID: "1", APIEndpoint: server.URL})
	require.NoError(t, err)

	result, err := client.Send(context.Background(), alertMessage())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "chat not found")

	server.Close()
	result, err = client.Send(context.Background(), alertMessage())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotContains(t, result.Error, "secret-token")
}

func TestNewTelegramClient_Validation(t *testing.T) {
	_, err := NewTelegramClient(Config{ChatID: "1"})
	assert.Error(t, err)
	_, err = NewTelegramClient(Config{BotToken: "t"})
	assert.Error(t, err)

	bot, err := NewTelegramBot(Config{BotToken: "t"})
	require.NoError(t, err)
	assert.Empty(t, bot.ChatID())
	assert.Equal(t, "99", bot.ForChat("99").ChatID())
}

// =============================================================================
// Slack
// =============================================================================

func TestSlackClient_Send(t *testing.T) {
	var got slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, err := NewSlackClient(Config{WebhookURL: server.URL})
	require.NoError(t, err)

	result, err := client.Send(context.Background(), alertMessage())
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.Equal(t, "VIGILIS NEURAL ALERT", got.Text)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, GetSeverityColor(SeverityCritical), got.Attachments[0].Color)
	blocks := got.Attachments[0].Blocks
	require.Len(t, blocks, 4)
	assert.Equal(t, "header", blocks[0].Type)
	require.Len(t, blocks[2].Fields, 2)
	assert.Equal(t, "*Client:*\nc-1", blocks[2].Fields[0].Text)
}

func TestSlackClient_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer server.Close()

	client, err := NewSlackClient(Config{WebhookURL: server.URL})
	require.NoError(t, err)

	result, err := client.Send(context.Background(), alertMessage())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "403")
}

// =============================================================================
// Webhook
// =============================================================================

func TestWebhookClient_SendSigned(t *testing.T) {
	var (
		body      []byte
		signature string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client, err := NewWebhookClient(Config{WebhookURL: server.URL, WebhookSecret: "s3cr3t"})
	require.NoError(t, err)
	client.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	result, err := client.Send(context.Background(), alertMessage())
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.Equal(t, Sign([]byte("s3cr3t"), body), signature)

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "2025-01-02T03:04:05Z", payload.Timestamp)
	assert.Equal(t, "vigilis", payload.Source)
	assert.Equal(t, "c-1", payload.Fields["Client"])
}

func TestWebhookClient_Unsigned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewWebhookClient(Config{WebhookURL: server.URL})
	require.NoError(t, err)

	result, err := client.Send(context.Background(), alertMessage())
	require.NoError(t, err)
	assert.False(t, result.Success)
}

// =============================================================================
// Email
// =============================================================================

func TestEmailClient_BuildMIME(t *testing.T) {
	client, err := NewEmailClient(Config{Email: &EmailConfig{
		SMTPHost:  "smtp.example.org",
		SMTPPort:  587,
		FromEmail: "alerts@vigilis.dev",
		FromName:  "Vigilis",
		ToEmails:  []string{"ops@vigilis.dev", "sec@vigilis.dev"},
	}})
	require.NoError(t, err)

	msg := alertMessage()
	msg.Title = "Agent <compromised>\r\nBcc: evil@x"
	raw, err := client.buildMIME(msg)
	require.NoError(t, err)
	s := string(raw)

	assert.Contains(t, s, "From: Vigilis <alerts@vigilis.dev>\r\n")
	assert.Contains(t, s, "To: ops@vigilis.dev, sec@vigilis.dev\r\n")
	assert.Contains(t, s, "Subject: [CRITICAL] Agent <compromised>  Bcc: evil@x\r\n")
	assert.NotContains(t, s, "\r\nBcc:")
	assert.Contains(t, s, "Agent &lt;compromised&gt;")
	assert.Contains(t, s, "<strong>Reason:</strong> judge flagged compliance")
}

func TestEmailClient_SendFailureIsReported(t *testing.T) {
	client, err := NewEmailClient(Config{
		Timeout: 200 * time.Millisecond,
		Email: &EmailConfig{
			SMTPHost:  "127.0.0.1",
			SMTPPort:  1,
			FromEmail: "alerts@vigilis.dev",
			ToEmails:  []string{"ops@vigilis.dev"},
		},
	})
	require.NoError(t, err)

	result, err := client.Send(context.Background(), alertMessage())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "dial")
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(Config{Provider: ProviderSlack, WebhookURL: "https://hooks.slack.com/services/x"})
	require.NoError(t, err)
	assert.Equal(t, "slack", c.Provider())

	_, err = NewClient(Config{Provider: "teams"})
	assert.Error(t, err)

	_, err = NewClient(Config{Provider: ProviderEmail})
	assert.Error(t, err)
}
