package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/scrapewall/backend/internal/events"
)

// GenericWebhook posts alerts as plain JSON to an arbitrary endpoint.
type GenericWebhook struct {
	url    string
	client *http.Client
}

// NewGenericWebhook builds the sink. Returns nil without a URL.
func NewGenericWebhook(url string) *GenericWebhook {
	if url == "" {
		return nil
	}
	return &GenericWebhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *GenericWebhook) Name() string { return "generic_webhook" }

type genericPayload struct {
	AlertType string                 `json:"alert_type"`
	Reason    string                 `json:"reason"`
	Timestamp string                 `json:"timestamp"`
	IPAddress string                 `json:"ip_address"`
	UserAgent string                 `json:"user_agent"`
	Details   events.RequestMetadata `json:"details"`
}

// Send posts the alert payload.
func (g *GenericWebhook) Send(ctx context.Context, v events.Verdict) error {
	payload := genericPayload{
		AlertType: "AI_DEFENSE_BLOCK",
		Reason:    v.Reason,
		Timestamp: events.ISOTimestamp(time.Now()),
		IPAddress: v.Details.SourceAddress,
		UserAgent: v.Details.UserAgent,
		Details:   v.Details,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook status %d", resp.StatusCode)
	}
	return nil
}
