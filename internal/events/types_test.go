package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdinals(t *testing.T) {
	cases := map[string]int{
		"External API Classification":     3,
		"Local LLM Classification":        2,
		"Honeypot_Hit":                    2,
		"High Heuristic Score":            1,
		"High Combined Score (0.95)":      1,
		"something else entirely":         0,
		"":                                0,
		"Manual review: looks suspicious": 0,
	}
	for reason, want := range cases {
		assert.Equal(t, want, Severity(reason), "reason %q", reason)
	}
}

func TestIsBlockReason(t *testing.T) {
	assert.True(t, IsBlockReason("High Combined Score (0.91)"))
	assert.True(t, IsBlockReason("Local LLM Classification"))
	assert.True(t, IsBlockReason("External API Classification"))
	assert.True(t, IsBlockReason("High Heuristic Score"))
	assert.True(t, IsBlockReason("Honeypot_Hit"))

	assert.False(t, IsBlockReason("low score"))
	assert.False(t, IsBlockReason(""))
}

func TestMetadataUnmarshalSpillsExtra(t *testing.T) {
	payload := `{
		"timestamp": "2026-08-24T10:00:00Z",
		"source_address": "1.2.3.4",
		"user_agent": "curl/8.0",
		"referer": "",
		"path": "/wp-login.php",
		"source_label": "proxy",
		"headers": {"Accept": "*/*"},
		"status_code": 200,
		"http_method": "GET"
	}`

	var meta RequestMetadata
	require.NoError(t, json.Unmarshal([]byte(payload), &meta))

	assert.Equal(t, "1.2.3.4", meta.SourceAddress)
	assert.Equal(t, "/wp-login.php", meta.Path)
	assert.Equal(t, float64(200), meta.ExtraNumber("status_code", -1))
	assert.Equal(t, "GET", meta.ExtraString("http_method", "Unknown"))
	assert.Equal(t, float64(-1), meta.ExtraNumber("bytes_sent", -1))
}

func TestMetadataMarshalRoundTrip(t *testing.T) {
	meta := RequestMetadata{
		Timestamp:     "2026-08-24T10:00:00Z",
		SourceAddress: "5.6.7.8",
		SourceLabel:   "tarpit",
		Extra:         map[string]interface{}{"bytes_sent": float64(512)},
	}

	data, err := json.Marshal(meta)
	require.NoError(t, err)

	var back RequestMetadata
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "5.6.7.8", back.SourceAddress)
	assert.Equal(t, float64(512), back.ExtraNumber("bytes_sent", -1))
}

func TestHeaderLookupIsCaseInsensitive(t *testing.T) {
	meta := RequestMetadata{Headers: map[string]string{"X-Forwarded-For": "9.9.9.9"}}
	assert.Equal(t, "9.9.9.9", meta.Header("x-forwarded-for"))
	assert.Equal(t, "9.9.9.9", meta.Header("X-Forwarded-For"))
	assert.Equal(t, "", meta.Header("Accept"))
}

func TestValidateRequiresMandatoryFields(t *testing.T) {
	meta := RequestMetadata{}
	assert.Error(t, meta.Validate())

	meta.Timestamp = "2026-08-24T10:00:00Z"
	assert.Error(t, meta.Validate())

	meta.SourceAddress = "1.2.3.4"
	assert.Error(t, meta.Validate())

	meta.SourceLabel = "proxy"
	assert.NoError(t, meta.Validate())
}

func TestParseTime(t *testing.T) {
	meta := RequestMetadata{Timestamp: "2026-08-24T15:30:00Z"}
	parsed, err := meta.ParseTime()
	require.NoError(t, err)
	assert.Equal(t, 15, parsed.Hour())

	meta.Timestamp = "not a time"
	_, err = meta.ParseTime()
	assert.Error(t, err)
}

func TestISOTimestampHasTrailingZ(t *testing.T) {
	ts := ISOTimestamp(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, "2026-08-24T12:00:00.000Z", ts)
}

func TestNewVerdictEnvelope(t *testing.T) {
	meta := RequestMetadata{SourceAddress: "1.2.3.4"}
	v := NewVerdict("High Combined Score (0.95)", 0.95, meta)

	assert.Equal(t, EventTypeSuspicious, v.EventType)
	assert.True(t, v.IsBotDecision)
	assert.Equal(t, "1.2.3.4", v.Details.SourceAddress)
	assert.NotEmpty(t, v.Timestamp)
}
