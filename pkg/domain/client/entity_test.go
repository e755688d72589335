package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_UnknownFieldsSurviveRoundTrip(t *testing.T) {
	raw := `{"id":7,"name":"Shop Bot","url":"https://bot.test/chat","plan":"pro","owner":{"email":"o@test"}}`

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))

	assert.Equal(t, "7", rec.ID.String())
	assert.Equal(t, StatusPending, rec.CurrentStatus())

	rec.Status = StatusSecure
	out, err := json.Marshal(rec)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Equal(t, "pro", generic["plan"])
	assert.Equal(t, map[string]any{"email": "o@test"}, generic["owner"])
	assert.Equal(t, float64(7), generic["id"], "numeric ids stay numeric")
	assert.Equal(t, "SECURE", generic["status"])
}

func TestRecord_StringIDAndFlexFields(t *testing.T) {
	raw := `{"id":"c-1","name":"A","url":"https://a.test","transaction_id":12345,"telegram_id":"998"}`

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))

	assert.Equal(t, "c-1", rec.ID.String())
	assert.Equal(t, FlexString("12345"), rec.TransactionID)
	assert.Equal(t, FlexString("998"), rec.TelegramID)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"id":"c-1"`)
}

func TestRecord_CloneIsDeep(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","tags":["always_on"],"plan":"pro"}`), &rec))

	c := rec.Clone()
	c.Tags[0] = "changed"

	assert.Equal(t, "always_on", rec.Tags[0])
	assert.True(t, rec.HasTag("ALWAYS_ON"))
	assert.False(t, rec.HasTag(""))
}

func TestRegistry_MarshalDefaultsCollections(t *testing.T) {
	out, err := json.Marshal(Registry{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"clients":[],"licenses":[]}`, string(out))
}

func TestRegistry_LicensesPassThrough(t *testing.T) {
	raw := `{"clients":[{"id":"a","name":"A","url":"https://a.test"}],"licenses":[{"key":"TX-1","seats":3}]}`

	var reg Registry
	require.NoError(t, json.Unmarshal([]byte(raw), &reg))

	out, err := json.Marshal(reg)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
		want time.Time
	}{
		{name: "rfc3339", in: "2026-01-02T03:04:05Z", ok: true, want: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{name: "iso without zone", in: "2026-01-02T03:04:05.123456", ok: true, want: time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC)},
		{name: "space separated", in: "2026-01-02 03:04:05", ok: true, want: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{name: "empty", in: "", ok: false},
		{name: "garbage", in: "yesterday", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
			}
		})
	}
}

func TestNewPublicView_StripsPrivateFields(t *testing.T) {
	records := []Record{
		{
			ID: NewID("abcdef"), Name: "Shop Bot", URL: "https://secret.test/hook",
			TelegramID: "42", Status: StatusCompromised, Detail: "agent complied",
			LastCheck: "2026-10-01T00:00:00Z", LastTrap: "trap", LastReply: "sure",
		},
		{ID: NewNumericID(12), Name: "New Bot"},
	}

	view := NewPublicView(records, PublicViewOptions{})
	require.Len(t, view, 2)

	out, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret.test")
	assert.NotContains(t, string(out), "trap")
	assert.NotContains(t, string(out), "sure")
	assert.Equal(t, StatusPending, view[1].Status)

	masked := NewPublicView(records, PublicViewOptions{MaskNames: true})
	assert.Equal(t, "NEURAL-AGENT-ABCD", masked[0].Name)
	assert.Equal(t, "NEURAL-AGENT-12", masked[1].Name)
	assert.Equal(t, "Vigilis Neural: COMPROMISED", masked[0].Detail)
	assert.Equal(t, "Vigilis Neural: PENDING", masked[1].Detail)
}
