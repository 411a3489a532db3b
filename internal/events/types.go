// Package events defines the wire types exchanged between the escalation
// engine, the webhook receiver, and the tarpit responder.
//
// Reason strings are a stable interface: downstream log parsers and the
// receiver's auto-block criteria match on the substrings defined here, so
// they must not be reworded.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventTypeSuspicious is the envelope event type for verdicts forwarded to
// the webhook receiver.
const EventTypeSuspicious = "suspicious_activity_detected"

// Canonical verdict reasons. The receiver blocklists on any reason that
// contains one of these substrings.
const (
	ReasonHighCombined  = "High Combined Score"
	ReasonHighHeuristic = "High Heuristic Score"
	ReasonLocalLLM      = "Local LLM Classification"
	ReasonExternalAPI   = "External API Classification"
	ReasonHoneypot      = "Honeypot_Hit"
)

// BlockReasons enumerates the reason substrings that qualify an address for
// auto-blocklisting.
var BlockReasons = []string{
	ReasonHighCombined,
	ReasonLocalLLM,
	ReasonExternalAPI,
	ReasonHighHeuristic,
	ReasonHoneypot,
}

// IsBlockReason reports whether a verdict reason qualifies for blocklisting.
func IsBlockReason(reason string) bool {
	for _, r := range BlockReasons {
		if strings.Contains(reason, r) {
			return true
		}
	}
	return false
}

// Severity returns the alert ordinal for a reason. Higher means more
// specific evidence. Unrecognised reasons map to 0 and are never dispatched.
func Severity(reason string) int {
	switch {
	case strings.HasPrefix(reason, "External API"):
		return 3
	case strings.HasPrefix(reason, "Local LLM"):
		return 2
	case strings.HasPrefix(reason, "Honeypot_Hit"):
		return 2
	case strings.HasPrefix(reason, "High Heuristic"):
		return 1
	case strings.HasPrefix(reason, "High Combined"):
		return 1
	default:
		return 0
	}
}

// RequestMetadata is one observed request as reported by the fronting proxy
// or the tarpit. It is immutable once parsed; headers keep their original
// casing and are looked up case-insensitively.
type RequestMetadata struct {
	Timestamp     string            `json:"timestamp"`
	SourceAddress string            `json:"source_address"`
	UserAgent     string            `json:"user_agent"`
	Referer       string            `json:"referer"`
	Path          string            `json:"path"`
	Headers       map[string]string `json:"headers,omitempty"`
	SourceLabel   string            `json:"source_label"`

	// Extra holds payload fields outside the fixed schema (status_code,
	// bytes_sent, http_method and anything else the proxy attaches).
	Extra map[string]interface{} `json:"-"`
}

// metadataAlias avoids UnmarshalJSON recursion.
type metadataAlias RequestMetadata

var knownMetadataKeys = map[string]bool{
	"timestamp": true, "source_address": true, "user_agent": true,
	"referer": true, "path": true, "headers": true, "source_label": true,
}

// UnmarshalJSON decodes the fixed fields and spills everything else into
// Extra so proxy-specific fields survive the round trip.
func (m *RequestMetadata) UnmarshalJSON(data []byte) error {
	var alias metadataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if knownMetadataKeys[k] {
			delete(raw, k)
		}
	}
	*m = RequestMetadata(alias)
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// MarshalJSON re-inlines the Extra fields next to the fixed schema.
func (m RequestMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Extra)+7)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["timestamp"] = m.Timestamp
	out["source_address"] = m.SourceAddress
	out["user_agent"] = m.UserAgent
	out["referer"] = m.Referer
	out["path"] = m.Path
	out["source_label"] = m.SourceLabel
	if m.Headers != nil {
		out["headers"] = m.Headers
	}
	return json.Marshal(out)
}

// Validate checks the fields the escalation engine requires.
func (m *RequestMetadata) Validate() error {
	if m.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if m.SourceAddress == "" {
		return fmt.Errorf("source_address is required")
	}
	if m.SourceLabel == "" {
		return fmt.Errorf("source_label is required")
	}
	return nil
}

// Header returns a header value by case-insensitive name.
func (m *RequestMetadata) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ExtraNumber returns a numeric spill field, or the sentinel when absent or
// non-numeric.
func (m *RequestMetadata) ExtraNumber(key string, sentinel float64) float64 {
	if m.Extra == nil {
		return sentinel
	}
	switch v := m.Extra[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return sentinel
		}
		return f
	default:
		return sentinel
	}
}

// ExtraString returns a string spill field, or the sentinel when absent.
func (m *RequestMetadata) ExtraString(key, sentinel string) string {
	if m.Extra == nil {
		return sentinel
	}
	if v, ok := m.Extra[key].(string); ok && v != "" {
		return v
	}
	return sentinel
}

// ParseTime parses the metadata timestamp. Accepts RFC3339 with or without
// sub-second precision.
func (m *RequestMetadata) ParseTime() (time.Time, error) {
	ts := m.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05Z0700", ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	return t.UTC(), nil
}

// Verdict is the engine's decision record forwarded to the webhook receiver.
type Verdict struct {
	EventType     string          `json:"event_type"`
	Timestamp     string          `json:"timestamp"`
	Reason        string          `json:"reason"`
	Score         float64         `json:"score"`
	IsBotDecision bool            `json:"is_bot_decision"`
	Details       RequestMetadata `json:"details"`
}

// NewVerdict builds a forwardable verdict envelope around request metadata.
func NewVerdict(reason string, score float64, meta RequestMetadata) Verdict {
	return Verdict{
		EventType:     EventTypeSuspicious,
		Timestamp:     ISOTimestamp(time.Now()),
		Reason:        reason,
		Score:         score,
		IsBotDecision: true,
		Details:       meta,
	}
}

// ISOTimestamp formats a time as UTC ISO 8601 with a trailing Z, the format
// used on every wire payload and log record.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
