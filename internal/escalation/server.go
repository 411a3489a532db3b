package escalation

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/metrics"
	"github.com/scrapewall/backend/internal/middleware"
)

// Server exposes the escalation engine over HTTP.
type Server struct {
	pipeline *Pipeline
	metrics  *metrics.Store
}

// NewServer wires the engine's HTTP surface.
func NewServer(pipeline *Pipeline, m *metrics.Store) *Server {
	return &Server{pipeline: pipeline, metrics: m}
}

// Router builds the engine's route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/escalate", s.handleEscalate).Methods(http.MethodPost)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.Handle("/metrics/prom", promhttp.HandlerFor(
		s.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.Use(middleware.Logging)
	r.Use(middleware.Recover(s.metrics, "escalation_errors_unexpected"))
	return r
}

type escalateResponse struct {
	Status        string  `json:"status"`
	Action        string  `json:"action"`
	IsBotDecision *bool   `json:"is_bot_decision"`
	Score         float64 `json:"score"`
}

// handleEscalate validates the metadata payload and runs the pipeline.
// Returns 200 even when the decision is "not a bot"; 422 is reserved for
// payloads the engine cannot analyse at all.
func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	s.metrics.Inc("escalate_requests_total")

	var meta events.RequestMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		s.metrics.Inc("escalate_errors_validation")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"status": "error",
			"detail": "malformed request metadata: " + err.Error(),
		})
		return
	}
	if meta.SourceAddress == "" {
		meta.SourceAddress = "unknown"
	}
	if err := meta.Validate(); err != nil {
		s.metrics.Inc("escalate_errors_validation")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"status": "error",
			"detail": err.Error(),
		})
		return
	}

	outcome := s.pipeline.Process(r.Context(), &meta)
	writeJSON(w, http.StatusOK, escalateResponse{
		Status:        "processed",
		Action:        outcome.Action,
		IsBotDecision: outcome.IsBot,
		Score:         outcome.Score,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "escalation-engine",
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
