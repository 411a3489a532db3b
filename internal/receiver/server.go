// Package receiver implements the webhook receiver: it consumes verdicts
// from the escalation engine, maintains the shared blocklist, and evaluates
// alerting. Blocklisting is fail-closed in the sense that an address, once
// added, stays authoritative until an operator clears it; a store outage
// only ever skips an add, never blocks a bystander.
package receiver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrapewall/backend/internal/alerts"
	"github.com/scrapewall/backend/internal/eventlog"
	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/kvstore"
	"github.com/scrapewall/backend/internal/metrics"
	"github.com/scrapewall/backend/internal/middleware"
)

// Base actions reported in the /analyze response. Alert evaluation appends
// "_alert_checked" or "_alert_error".
const (
	actionBlocklisted      = "ip_blocklisted"
	actionBlocklistFailed  = "blocklist_failed"
	actionSkippedUnknownIP = "blocklist_skipped_unknown_ip"
	actionSkippedCriteria  = "blocklist_skipped_criteria_not_met"
	suffixAlertChecked     = "_alert_checked"
	suffixAlertError       = "_alert_error"
	unknownSource          = "unknown"
)

// Server is the webhook receiver HTTP service.
type Server struct {
	blocklist  *kvstore.Blocklist
	dispatcher *alerts.Dispatcher
	blockLog   *eventlog.Logger
	metrics    *metrics.Store
}

// NewServer wires the receiver. blockLog may be nil (no on-disk block
// trail).
func NewServer(blocklist *kvstore.Blocklist, dispatcher *alerts.Dispatcher, blockLog *eventlog.Logger, m *metrics.Store) *Server {
	return &Server{
		blocklist:  blocklist,
		dispatcher: dispatcher,
		blockLog:   blockLog,
		metrics:    m,
	}
}

// Router builds the receiver's route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.Handle("/metrics/prom", promhttp.HandlerFor(
		s.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.Use(middleware.Logging)
	r.Use(middleware.Recover(s.metrics, "receiver_errors_unexpected"))
	return r
}

type analyzeResponse struct {
	Status      string `json:"status"`
	ActionTaken string `json:"action_taken"`
	IPProcessed string `json:"ip_processed"`
}

// handleAnalyze runs the receiver state machine for one verdict: log the
// event, evaluate the auto-block criteria, then evaluate alerting. Responds
// 202 because sink deliveries may still be in flight.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.metrics.Inc("analyze_requests_total")

	var v events.Verdict
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.metrics.Inc("analyze_errors_validation")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"status": "error",
			"detail": "malformed verdict payload: " + err.Error(),
		})
		return
	}

	ip := v.Details.SourceAddress
	if ip == "" {
		ip = unknownSource
	}

	action := s.applyBlockPolicy(r, &v, ip)

	if admitted, err := s.dispatcher.Dispatch(v); err != nil {
		action += suffixAlertError
	} else if admitted {
		action += suffixAlertChecked
	}

	writeJSON(w, http.StatusAccepted, analyzeResponse{
		Status:      "received",
		ActionTaken: action,
		IPProcessed: ip,
	})
}

// applyBlockPolicy logs the verdict and inserts qualifying addresses into
// the blocklist, returning the base action string.
func (s *Server) applyBlockPolicy(r *http.Request, v *events.Verdict, ip string) string {
	qualifies := events.IsBlockReason(v.Reason)

	if s.blockLog != nil {
		if err := s.blockLog.Append(map[string]interface{}{
			"reason":          v.Reason,
			"ip_address":      ip,
			"user_agent":      v.Details.UserAgent,
			"score":           v.Score,
			"is_bot_decision": v.IsBotDecision,
			"qualifies":       qualifies,
		}); err != nil {
			slog.Error("block event log append failed", "error", err)
			s.metrics.Inc("block_log_errors_write")
		}
	}

	if !qualifies {
		s.metrics.Inc("blocklist_skipped_criteria")
		return actionSkippedCriteria
	}
	if ip == unknownSource {
		s.metrics.Inc("blocklist_skipped_unknown")
		return actionSkippedUnknownIP
	}

	if err := s.blocklist.Add(r.Context(), ip); err != nil {
		slog.Error("blocklist add failed", "ip", ip, "error", err)
		s.metrics.Inc("redis_errors_blocklist")
		return actionBlocklistFailed
	}

	slog.Info("address blocklisted", "ip", ip, "reason", v.Reason)
	s.metrics.Inc("ips_blocklisted")
	return actionBlocklisted
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	blocklistUp := s.blocklist.Ping(r.Context()) == nil
	if !blocklistUp {
		status = "error"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":              status,
		"service":             "webhook-receiver",
		"blocklist_connected": blocklistUp,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
