package escalation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *pipelineFixture) {
	t.Helper()
	fx := newFixture(t, nil, nil)
	return NewServer(fx.pipeline, fx.store), fx
}

func postEscalate(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/escalate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestEscalateProcessesValidMetadata(t *testing.T) {
	srv, fx := newTestServer(t)

	rec := postEscalate(t, srv, `{
		"timestamp": "2026-08-24T15:00:00Z",
		"source_address": "203.0.113.7",
		"user_agent": "python-requests/2.31",
		"path": "/wp-login.php",
		"source_label": "proxy"
	}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp escalateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "processed", resp.Status)
	assert.Equal(t, ActionWebhookHighScore, resp.Action)
	require.NotNil(t, resp.IsBotDecision)
	assert.True(t, *resp.IsBotDecision)
	assert.Equal(t, uint64(1), fx.store.Get("escalate_requests_total"))
}

func TestEscalateRejectsMalformedJSON(t *testing.T) {
	srv, fx := newTestServer(t)

	rec := postEscalate(t, srv, `{not json`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, uint64(1), fx.store.Get("escalate_errors_validation"))
}

func TestEscalateRejectsMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := postEscalate(t, srv, `{"source_address": "1.2.3.4"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp["status"])
}

func TestEscalateDefaultsMissingSourceAddress(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := postEscalate(t, srv, `{
		"timestamp": "2026-08-24T15:00:00Z",
		"user_agent": "Mozilla/5.0 Chrome/120.0",
		"path": "/products",
		"source_label": "proxy"
	}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp escalateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "processed", resp.Status)
}

func TestEscalateMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/escalate", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsSnapshotEndpoint(t *testing.T) {
	srv, fx := newTestServer(t)
	fx.store.Inc("escalate_requests_total")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var snap struct {
		Counters map[string]uint64 `json:"counters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, uint64(1), snap.Counters["escalate_requests_total"])
}

func TestPrometheusScrapeEndpoint(t *testing.T) {
	srv, fx := newTestServer(t)
	fx.store.Inc("escalate_requests_total")

	req := httptest.NewRequest(http.MethodGet, "/metrics/prom", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "defense_pipeline_events_total")
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
