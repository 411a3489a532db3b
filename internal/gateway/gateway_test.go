package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/metrics"
)

func testMeta() *events.RequestMetadata {
	return &events.RequestMetadata{
		Timestamp:     "2026-08-24T15:00:00Z",
		SourceAddress: "1.2.3.4",
		UserAgent:     "python-requests/2.31",
		Path:          "/products?page=120",
		SourceLabel:   "proxy",
		Headers:       map[string]string{"Accept": "*/*", "X-Custom": "hidden"},
	}
}

func llmServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Messages)
		assert.Equal(t, "system", req.Messages[0].Role)

		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, reply)
	}))
}

func TestLocalLLMDisabledWithoutURL(t *testing.T) {
	assert.Nil(t, NewLocalLLM("", "llama3", 0, metrics.NewStore("test")))
}

func TestLocalLLMClassifyTokens(t *testing.T) {
	cases := map[string]Result{
		"MALICIOUS_BOT":                 Bot,
		"  malicious_bot is my verdict": Bot, // replies are uppercased before matching
		"BENIGN_CRAWLER":                Benign,
		"HUMAN":                         Benign,
		"The answer is MALICIOUS_BOT.":  Bot,
		"I cannot classify this":        Inconclusive,
	}

	for reply, want := range cases {
		srv := llmServer(t, reply)
		sink := NewLocalLLM(srv.URL, "llama3", 5*time.Second, metrics.NewStore("test"))

		got := sink.Classify(context.Background(), testMeta())
		assert.Equal(t, want, got, "reply %q", reply)
		srv.Close()
	}
}

func TestLocalLLMUnparseableReplyCountsResponseError(t *testing.T) {
	srv := llmServer(t, "maybe?")
	defer srv.Close()

	store := metrics.NewStore("test")
	sink := NewLocalLLM(srv.URL, "llama3", 5*time.Second, store)

	assert.Equal(t, Inconclusive, sink.Classify(context.Background(), testMeta()))
	assert.Equal(t, uint64(1), store.Get("local_llm_errors_response"))
}

func TestLocalLLMServerErrorIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := metrics.NewStore("test")
	sink := NewLocalLLM(srv.URL, "llama3", 5*time.Second, store)

	assert.Equal(t, Inconclusive, sink.Classify(context.Background(), testMeta()))
	assert.Equal(t, uint64(1), store.Get("local_llm_errors_request"))
}

func TestLocalLLMUnreachableIsInconclusive(t *testing.T) {
	store := metrics.NewStore("test")
	sink := NewLocalLLM("http://127.0.0.1:1/v1/chat/completions", "llama3", time.Second, store)

	assert.Equal(t, Inconclusive, sink.Classify(context.Background(), testMeta()))
	assert.Equal(t, uint64(1), store.Get("local_llm_errors_request"))
}

func TestSummarizeCuratesHeaders(t *testing.T) {
	text := summarize(testMeta())

	assert.Contains(t, text, "Source address: 1.2.3.4")
	assert.Contains(t, text, `User agent: "python-requests/2.31"`)
	assert.Contains(t, text, "Header Accept: */*")
	assert.NotContains(t, text, "X-Custom")
}

func TestExternalAPIDisabledWithoutURL(t *testing.T) {
	assert.Nil(t, NewExternalAPI("", "key", 0, metrics.NewStore("test")))
}

func TestExternalAPIClassify(t *testing.T) {
	var gotAuth string
	var gotPayload externalRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		fmt.Fprint(w, `{"is_bot": true, "confidence": 0.93}`)
	}))
	defer srv.Close()

	sink := NewExternalAPI(srv.URL, "secret-key", 5*time.Second, metrics.NewStore("test"))
	got := sink.Classify(context.Background(), testMeta())

	assert.Equal(t, Bot, got)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "1.2.3.4", gotPayload.SourceAddress)
	assert.Equal(t, "python-requests/2.31", gotPayload.UserAgent)
}

func TestExternalAPIHumanVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"is_bot": false}`)
	}))
	defer srv.Close()

	sink := NewExternalAPI(srv.URL, "", 5*time.Second, metrics.NewStore("test"))
	assert.Equal(t, Benign, sink.Classify(context.Background(), testMeta()))
}

func TestExternalAPIMissingFieldIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"confidence": 0.5}`)
	}))
	defer srv.Close()

	store := metrics.NewStore("test")
	sink := NewExternalAPI(srv.URL, "", 5*time.Second, store)

	assert.Equal(t, Inconclusive, sink.Classify(context.Background(), testMeta()))
	assert.Equal(t, uint64(1), store.Get("external_api_errors_response"))
}

func TestExternalAPIServerErrorIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := metrics.NewStore("test")
	sink := NewExternalAPI(srv.URL, "", 5*time.Second, store)

	assert.Equal(t, Inconclusive, sink.Classify(context.Background(), testMeta()))
	assert.Equal(t, uint64(1), store.Get("external_api_errors_request"))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "bot", Bot.String())
	assert.Equal(t, "benign", Benign.String())
	assert.Equal(t, "inconclusive", Inconclusive.String())
}
