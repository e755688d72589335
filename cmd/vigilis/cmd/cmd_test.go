package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilis/sentinel/internal/app"
	"github.com/vigilis/sentinel/internal/config"
	"github.com/vigilis/sentinel/pkg/domain/client"
)

func providers(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	channels, err := buildChannels(cfg)
	require.NoError(t, err)
	names := make([]string, 0, len(channels))
	for _, c := range channels {
		names = append(names, c.Provider())
	}
	return names
}

func TestBuildChannels(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		assert.Empty(t, providers(t, &config.Config{}))
	})

	t.Run("telegram needs a chat", func(t *testing.T) {
		cfg := &config.Config{Alert: config.AlertConfig{TelegramBotToken: "tok"}}
		assert.Empty(t, providers(t, cfg))

		cfg.Alert.TelegramChatID = "-100"
		assert.Equal(t, []string{"telegram"}, providers(t, cfg))
	})

	t.Run("all channels in order", func(t *testing.T) {
		cfg := &config.Config{
			Alert: config.AlertConfig{
				TelegramBotToken: "tok",
				TelegramChatID:   "-100",
				SlackWebhookURL:  "https://hooks.slack.example/x",
				WebhookURL:       "https://alerts.example/hook",
				EmailTo:          []string{"ops@example.com"},
			},
			SMTP: config.SMTPConfig{Enabled: true, Host: "smtp.example.com", Port: 587, From: "vigilis@example.com", TLS: true},
		}
		assert.Equal(t, []string{"telegram", "slack", "webhook", "email"}, providers(t, cfg))
	})

	t.Run("email needs smtp", func(t *testing.T) {
		cfg := &config.Config{Alert: config.AlertConfig{EmailTo: []string{"ops@example.com"}}}
		assert.Empty(t, providers(t, cfg))
	})
}

func TestEligibilityConfig(t *testing.T) {
	cfg := &config.Config{Eligibility: config.EligibilityConfig{
		DedupPolicy:    config.DedupKeepLatest,
		ValidityWindow: 48 * time.Hour,
		WindowInterval: 6 * time.Hour,
		WindowOpen:     time.Hour,
		AlwaysOnTag:    "always_on",
	}}

	got := eligibilityConfig(cfg)
	assert.Equal(t, app.DedupKeepLatest, got.DedupPolicy)
	assert.Equal(t, 48*time.Hour, got.ValidityWindow)
	assert.Equal(t, 6*time.Hour, got.WindowInterval)
	assert.Equal(t, time.Hour, got.WindowOpen)
	assert.Equal(t, "always_on", got.AlwaysOnTag)
}

func sampleReport() scanSummary {
	start := time.Date(2026, 3, 10, 0, 10, 0, 0, time.UTC)
	return scanSummary{CycleReport: &app.CycleReport{
		CycleID:    "c-1",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Total:      4,
		Probed:     2,
		Excluded:   map[app.ExclusionReason]int{app.ExcludedExpired: 2},
		Verdicts:   map[client.Status]int{client.StatusSecure: 1, client.StatusCompromised: 1},
		Persisted:  true,
		Published:  true,
	}, AlertsSuppressed: 1}
}

func TestWriteReport_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, sampleReport(), "table"))

	out := buf.String()
	assert.Contains(t, out, "c-1")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "COMPROMISED")
	assert.Contains(t, out, "EXCLUDED "+string(app.ExcludedExpired))
	assert.NotContains(t, out, "PRUNED")
	assert.NotContains(t, out, "JUDGE UNAVAILABLE")
	assert.NotContains(t, out, "DEFERRED")
	assert.Contains(t, out, "ALERTS SUPPRESSED")
	// Verdicts are sorted.
	assert.Less(t, strings.Index(out, "COMPROMISED"), strings.Index(out, "SECURE"))
}

func TestWriteReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, sampleReport(), "json"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "c-1", got["cycle_id"])
	assert.Equal(t, float64(2), got["probed"])
	assert.Equal(t, true, got["published"])
	assert.Equal(t, float64(1), got["alerts_suppressed"])
	assert.Equal(t, float64(0), got["deferred"])
}

func TestWriteReport_Deferred(t *testing.T) {
	r := sampleReport()
	r.Deferred = 3

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, r, "table"))
	assert.Regexp(t, `DEFERRED\s+3`, buf.String())
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "vigilis version 1.2.3")
}

func TestRoutesCommand(t *testing.T) {
	var buf bytes.Buffer
	routesCmd.SetOut(&buf)
	require.NoError(t, routesCmd.RunE(routesCmd, nil))

	out := buf.String()
	assert.Contains(t, out, "/api/v1/status")
	assert.Contains(t, out, "/api/v1/status/summary")
	assert.Contains(t, out, "/health")
}
