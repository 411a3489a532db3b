package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/metrics"
)

// Forwarder posts confirmed verdicts to the webhook receiver. Delivery is
// deliberately loss-tolerant: no retry, because the next offending request
// re-triggers the same verdict.
type Forwarder struct {
	url     string
	client  *http.Client
	metrics *metrics.Store
}

// NewForwarder builds a forwarder. Returns nil when no receiver URL is
// configured, which disables forwarding (and therefore blocklisting).
func NewForwarder(url string, m *metrics.Store) *Forwarder {
	if url == "" {
		return nil
	}
	return &Forwarder{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: m,
	}
}

// Forward serializes and posts one verdict. Non-2xx and transport errors
// are logged and counted; the caller proceeds either way.
func (f *Forwarder) Forward(ctx context.Context, v events.Verdict) error {
	body, err := json.Marshal(v)
	if err != nil {
		f.metrics.Inc("webhook_errors_request")
		return fmt.Errorf("marshal verdict: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		f.metrics.Inc("webhook_errors_request")
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.Inc("webhook_errors_request")
		slog.Error("webhook forward failed", "url", f.url, "error", err)
		return fmt.Errorf("post verdict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.metrics.Inc("webhook_errors_status")
		slog.Error("webhook receiver returned non-2xx", "url", f.url, "status", resp.StatusCode)
		return fmt.Errorf("webhook receiver status %d", resp.StatusCode)
	}

	f.metrics.Inc("webhooks_forwarded")
	return nil
}
