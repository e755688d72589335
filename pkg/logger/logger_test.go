package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("registry loaded",
		"master_key", "$2b$10$abc",
		"bot_token", "123:ABC",
		"judge_api_keys", []string{"k1"},
		"client_id", "c-1",
	)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "[REDACTED]", entry["master_key"])
	assert.Equal(t, "[REDACTED]", entry["bot_token"])
	assert.Equal(t, "[REDACTED]", entry["judge_api_keys"])
	assert.Equal(t, "c-1", entry["client_id"])
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Equal(t, "shown", decodeLine(t, &buf)["msg"])
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	ctx := WithCycleID(context.Background(), "cycle-42")
	assert.Equal(t, "cycle-42", CycleID(ctx))

	log.WithContext(ctx).Info("cycle started")
	assert.Equal(t, "cycle-42", decodeLine(t, &buf)["cycle_id"])
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})

	log.With("component", "prober").Info("probe finished")
	assert.Contains(t, buf.String(), "component=prober")
	assert.Contains(t, buf.String(), `msg="probe finished"`)
}
