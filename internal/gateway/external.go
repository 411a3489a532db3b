package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/metrics"
)

// ExternalAPI consults a third-party classification service that answers a
// boolean is_bot field.
type ExternalAPI struct {
	url     string
	apiKey  string
	client  *http.Client
	metrics *metrics.Store
}

// NewExternalAPI builds the sink. Returns nil when no URL is configured.
func NewExternalAPI(url, apiKey string, timeout time.Duration, m *metrics.Store) *ExternalAPI {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ExternalAPI{
		url:     url,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
	}
}

func (e *ExternalAPI) Name() string { return "external_api" }

type externalRequest struct {
	SourceAddress string `json:"source_address"`
	UserAgent     string `json:"user_agent"`
	Path          string `json:"path"`
	Referer       string `json:"referer"`
	Timestamp     string `json:"timestamp"`
}

type externalResponse struct {
	IsBot *bool `json:"is_bot"`
}

// Classify posts the provider payload and reads is_bot. A missing field or
// any error is Inconclusive.
func (e *ExternalAPI) Classify(ctx context.Context, meta *events.RequestMetadata) Result {
	payload := externalRequest{
		SourceAddress: meta.SourceAddress,
		UserAgent:     meta.UserAgent,
		Path:          meta.Path,
		Referer:       meta.Referer,
		Timestamp:     meta.Timestamp,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		e.metrics.Inc("external_api_errors_request")
		return Inconclusive
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		e.metrics.Inc("external_api_errors_request")
		return Inconclusive
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.metrics.Inc("external_api_errors_timeout")
		} else {
			e.metrics.Inc("external_api_errors_request")
		}
		slog.Error("external classification request failed", "error", err)
		return Inconclusive
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("external classification returned non-2xx", "status", resp.StatusCode)
		e.metrics.Inc("external_api_errors_request")
		return Inconclusive
	}

	var parsed externalResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.IsBot == nil {
		e.metrics.Inc("external_api_errors_response")
		return Inconclusive
	}
	if *parsed.IsBot {
		return Bot
	}
	return Benign
}
