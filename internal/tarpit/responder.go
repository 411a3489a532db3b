package tarpit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrapewall/backend/internal/eventlog"
	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/kvstore"
	"github.com/scrapewall/backend/internal/metrics"
	"github.com/scrapewall/backend/internal/middleware"
)

// ResponderConfig tunes the tarpit service.
type ResponderConfig struct {
	MaxHops         int64
	HopLimitEnabled bool
	MinStreamDelay  time.Duration
	MaxStreamDelay  time.Duration
	EscalateURL     string
}

// Responder serves the tarpit: it records honeypot hits, flags sources,
// re-escalates the request, and streams deceptive content slowly. The
// handler deliberately holds connections open for many seconds, so the
// server in front of it must tolerate thousands of concurrent streams,
// one goroutine per held-open connection.
type Responder struct {
	cfg       ResponderConfig
	hops      *kvstore.HopCounter
	flags     *kvstore.FlagStore
	blocklist *kvstore.Blocklist
	generator Generator
	hitLog    *eventlog.Logger
	client    *http.Client
	metrics   *metrics.Store
	markovOK  bool
}

// NewResponder wires the tarpit service. generator is either the Markov or
// the labyrinth strategy; markovOK feeds the health endpoint.
func NewResponder(
	cfg ResponderConfig,
	hops *kvstore.HopCounter,
	flags *kvstore.FlagStore,
	blocklist *kvstore.Blocklist,
	generator Generator,
	hitLog *eventlog.Logger,
	markovOK bool,
	m *metrics.Store,
) *Responder {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 250
	}
	if cfg.MinStreamDelay <= 0 {
		cfg.MinStreamDelay = 600 * time.Millisecond
	}
	if cfg.MaxStreamDelay < cfg.MinStreamDelay {
		cfg.MaxStreamDelay = 1200 * time.Millisecond
	}
	return &Responder{
		cfg:       cfg,
		hops:      hops,
		flags:     flags,
		blocklist: blocklist,
		generator: generator,
		hitLog:    hitLog,
		client:    &http.Client{Timeout: 10 * time.Second},
		metrics:   m,
		markovOK:  markovOK,
	}
}

// Router builds the tarpit's route table. HEAD and POST fall through to the
// same handler; the fronting proxy decides what lands here.
func (t *Responder) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/tarpit", t.handleTarpit).Methods(http.MethodGet, http.MethodHead, http.MethodPost)
	r.PathPrefix("/tarpit/").HandlerFunc(t.handleTarpit).Methods(http.MethodGet, http.MethodHead, http.MethodPost)
	r.HandleFunc("/health", t.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", t.handleMetrics).Methods(http.MethodGet)
	r.Handle("/metrics/prom", promhttp.HandlerFor(
		t.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/", t.handleRoot).Methods(http.MethodGet)

	r.Use(middleware.Logging)
	r.Use(middleware.Recover(t.metrics, "tarpit_errors_unexpected"))
	return r
}

// sourceAddress resolves the client address, preferring the proxy's
// X-Forwarded-For.
func sourceAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

// handleTarpit runs the per-hit algorithm: hop accounting, honeypot
// logging, source flagging, re-escalation, then the slow stream.
func (t *Responder) handleTarpit(w http.ResponseWriter, r *http.Request) {
	source := sourceAddress(r)
	t.metrics.Inc("tarpit_hits")

	if t.overHopLimit(r.Context(), source) {
		t.metrics.Inc("tarpit_hop_limit_blocks")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Access Denied\n"))
		return
	}

	meta := events.RequestMetadata{
		Timestamp:     events.ISOTimestamp(time.Now()),
		SourceAddress: source,
		UserAgent:     r.UserAgent(),
		Referer:       r.Referer(),
		Path:          r.URL.Path,
		SourceLabel:   "tarpit",
	}

	if t.hitLog != nil {
		if err := t.hitLog.Append(map[string]interface{}{
			"source_address": source,
			"user_agent":     meta.UserAgent,
			"referer":        meta.Referer,
			"path":           meta.Path,
			"method":         r.Method,
		}); err != nil {
			slog.Error("honeypot log append failed", "error", err)
			t.metrics.Inc("honeypot_log_errors_write")
		}
	}

	if err := t.flags.Flag(r.Context(), source); err != nil {
		slog.Error("tarpit flag failed", "source", source, "error", err)
		t.metrics.Inc("redis_errors_tarpit_flag")
	}

	go t.escalate(meta)

	t.stream(w, r, t.generator.GeneratePage(r.URL.Path))
}

// overHopLimit bumps the hop counter and, past the cap, publishes the
// source to the blocklist. Store failures allow conservatively.
func (t *Responder) overHopLimit(ctx context.Context, source string) bool {
	count, err := t.hops.Increment(ctx, source)
	if err != nil {
		slog.Error("hop counter failed, allowing", "source", source, "error", err)
		t.metrics.Inc("redis_errors_hops")
		return false
	}
	if !t.cfg.HopLimitEnabled || count <= t.cfg.MaxHops {
		return false
	}

	if err := t.blocklist.Add(ctx, source); err != nil {
		slog.Error("hop-limit blocklist add failed", "source", source, "error", err)
		t.metrics.Inc("redis_errors_blocklist")
	} else {
		slog.Info("hop limit exceeded, source blocklisted",
			"source", source, "hops", count, "max_hops", t.cfg.MaxHops)
	}
	return true
}

// escalate re-submits the hit to the escalation engine. Fire and forget:
// failures are logged and counted, never propagated.
func (t *Responder) escalate(meta events.RequestMetadata) {
	if t.cfg.EscalateURL == "" {
		return
	}
	body, err := json.Marshal(meta)
	if err != nil {
		t.metrics.Inc("escalation_errors_request")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.EscalateURL, bytes.NewReader(body))
	if err != nil {
		t.metrics.Inc("escalation_errors_request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		slog.Error("tarpit re-escalation failed", "error", err)
		t.metrics.Inc("escalation_errors_request")
		return
	}
	resp.Body.Close()
}

// stream writes the page one line at a time with a uniformly random delay
// between lines. A client disconnect aborts silently; hop TTLs clean up.
func (t *Responder) stream(w http.ResponseWriter, r *http.Request, lines []string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	delayRange := t.cfg.MaxStreamDelay - t.cfg.MinStreamDelay

	for i, line := range lines {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			t.metrics.Inc("tarpit_stream_aborts")
			return
		}
		if canFlush {
			flusher.Flush()
		}
		if i == len(lines)-1 {
			break
		}

		delay := t.cfg.MinStreamDelay + time.Duration(rand.Int63n(int64(delayRange)+1))
		select {
		case <-r.Context().Done():
			t.metrics.Inc("tarpit_stream_aborts")
			return
		case <-time.After(delay):
		}
	}
	t.metrics.Inc("tarpit_streams_completed")
}

// handleRoot serves a decoy landing page without the slow stream.
func (t *Responder) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	for _, line := range t.generator.GeneratePage("/") {
		w.Write([]byte(line + "\n"))
	}
}

func (t *Responder) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	hopsUp := t.hops.Ping(ctx) == nil
	blocklistUp := t.blocklist.Ping(ctx) == nil

	status := "ok"
	code := http.StatusOK
	if !hopsUp || !blocklistUp {
		status = "error"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":                     status,
		"redis_hops_connected":       hopsUp,
		"redis_blocklist_connected":  blocklistUp,
		"markov_generator_available": t.markovOK,
	})
}

func (t *Responder) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t.metrics.Snapshot())
}
