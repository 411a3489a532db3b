package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/metrics"
)

const llmSystemPrompt = "You are a web traffic analyst for an anti-scraping system. " +
	"Given the metadata of one HTTP request, decide whether it came from a malicious " +
	"scraper, a well-behaved crawler, or a human browser. Respond with exactly one " +
	"of: MALICIOUS_BOT, BENIGN_CRAWLER, or HUMAN. Do not explain."

// Headers worth showing the model. Everything else is noise or
// proxy-internal.
var curatedHeaders = []string{
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
	"Connection",
	"Cookie",
	"X-Forwarded-For",
	"Sec-Fetch-Mode",
	"Sec-Fetch-Site",
}

// LocalLLM consults a chat-completions endpoint (llama.cpp, Ollama, vLLM,
// anything speaking the OpenAI wire shape).
type LocalLLM struct {
	url     string
	model   string
	client  *http.Client
	metrics *metrics.Store
}

// NewLocalLLM builds the sink. Returns nil when no URL is configured, which
// disables local LLM consultation.
func NewLocalLLM(url, model string, timeout time.Duration, m *metrics.Store) *LocalLLM {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &LocalLLM{
		url:     url,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
	}
}

func (l *LocalLLM) Name() string { return "local_llm" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify posts the request summary and maps the reply tokens to the
// tri-state result. Any transport, decode, or unparseable-reply condition is
// Inconclusive.
func (l *LocalLLM) Classify(ctx context.Context, meta *events.RequestMetadata) Result {
	payload := chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: llmSystemPrompt},
			{Role: "user", Content: summarize(meta)},
		},
		Temperature: 0.0,
		MaxTokens:   16,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		l.metrics.Inc("local_llm_errors_request")
		return Inconclusive
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		l.metrics.Inc("local_llm_errors_request")
		return Inconclusive
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			l.metrics.Inc("local_llm_errors_timeout")
		} else {
			l.metrics.Inc("local_llm_errors_request")
		}
		slog.Error("local LLM request failed", "error", err)
		return Inconclusive
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("local LLM returned non-2xx", "status", resp.StatusCode)
		l.metrics.Inc("local_llm_errors_request")
		return Inconclusive
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || len(parsed.Choices) == 0 {
		l.metrics.Inc("local_llm_errors_response")
		return Inconclusive
	}

	answer := strings.ToUpper(parsed.Choices[0].Message.Content)
	switch {
	case strings.Contains(answer, "MALICIOUS_BOT"):
		return Bot
	case strings.Contains(answer, "BENIGN_CRAWLER"), strings.Contains(answer, "HUMAN"):
		return Benign
	default:
		l.metrics.Inc("local_llm_errors_response")
		return Inconclusive
	}
}

// summarize renders the request metadata the model sees.
func summarize(meta *events.RequestMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source address: %s\n", meta.SourceAddress)
	fmt.Fprintf(&b, "User agent: %q\n", meta.UserAgent)
	fmt.Fprintf(&b, "Path: %s\n", meta.Path)
	fmt.Fprintf(&b, "Referer: %q\n", meta.Referer)
	fmt.Fprintf(&b, "Timestamp: %s\n", meta.Timestamp)
	for _, name := range curatedHeaders {
		if v := meta.Header(name); v != "" {
			fmt.Fprintf(&b, "Header %s: %s\n", name, v)
		}
	}
	return b.String()
}
