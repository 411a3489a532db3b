// Package escalation implements the engine that scores request metadata and
// forwards confirmed threats to the webhook receiver.
package escalation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/features"
	"github.com/scrapewall/backend/internal/gateway"
	"github.com/scrapewall/backend/internal/kvstore"
	"github.com/scrapewall/backend/internal/metrics"
	"github.com/scrapewall/backend/internal/scoring"
)

// Actions reported on the /escalate response.
const (
	ActionWebhookHighScore   = "webhook_triggered_high_score"
	ActionWebhookLocalLLM    = "webhook_triggered_local_llm"
	ActionWebhookExternalAPI = "webhook_triggered_external_api"
	ActionHumanLowScore      = "classified_human_low_score"
	ActionHumanLocalLLM      = "classified_human_local_llm"
	ActionHumanExternalAPI   = "classified_human_external_api"
	ActionLocalInconclusive  = "local_llm_inconclusive"
	ActionAPIInconclusive    = "external_api_inconclusive"
	ActionInternalError      = "internal_server_error"
)

// Outcome is the result of analysing one request. IsBot is nil when the
// pipeline could not decide (inconclusive consultation).
type Outcome struct {
	Action string
	IsBot  *bool
	Score  float64
}

// Pipeline wires the analysis stages together. All dependencies are
// assembled in main and injected; the pipeline itself holds no mutable
// state.
type Pipeline struct {
	tracker   *kvstore.FrequencyTracker
	analyzer  *features.Analyzer
	scorer    *scoring.Scorer
	localLLM  gateway.Consultant
	external  gateway.Consultant
	forwarder *Forwarder
	metrics   *metrics.Store
}

// NewPipeline builds the engine pipeline. localLLM, external, and forwarder
// may be nil; each nil disables its stage.
func NewPipeline(
	tracker *kvstore.FrequencyTracker,
	analyzer *features.Analyzer,
	scorer *scoring.Scorer,
	localLLM gateway.Consultant,
	external gateway.Consultant,
	forwarder *Forwarder,
	m *metrics.Store,
) *Pipeline {
	return &Pipeline{
		tracker:   tracker,
		analyzer:  analyzer,
		scorer:    scorer,
		localLLM:  localLLM,
		external:  external,
		forwarder: forwarder,
		metrics:   m,
	}
}

func boolPtr(b bool) *bool { return &b }

// Process runs frequency tracking, feature extraction, scoring, the
// medium-confidence consultations, and the webhook forward for one request.
func (p *Pipeline) Process(ctx context.Context, meta *events.RequestMetadata) Outcome {
	freq := p.tracker.RecordAndQuery(ctx, meta.SourceAddress)
	fm := p.analyzer.Extract(meta, freq)
	score := p.scorer.Composite(meta, freq, fm)
	t := p.scorer.Thresholds()

	switch {
	case score >= t.High:
		reason := fmt.Sprintf("%s (%.2f)", events.ReasonHighCombined, score)
		p.forward(ctx, reason, score, meta)
		return p.outcome(ActionWebhookHighScore, boolPtr(true), score)

	case score >= t.Low:
		return p.consult(ctx, meta, score)

	default:
		return p.outcome(ActionHumanLowScore, boolPtr(false), score)
	}
}

// consult runs the medium-confidence path: local LLM first, then the
// external API if the LLM was inconclusive or absent.
func (p *Pipeline) consult(ctx context.Context, meta *events.RequestMetadata, score float64) Outcome {
	if p.localLLM != nil {
		switch p.localLLM.Classify(ctx, meta) {
		case gateway.Bot:
			p.forward(ctx, events.ReasonLocalLLM, score, meta)
			return p.outcome(ActionWebhookLocalLLM, boolPtr(true), score)
		case gateway.Benign:
			return p.outcome(ActionHumanLocalLLM, boolPtr(false), score)
		}
	}

	if p.external != nil {
		switch p.external.Classify(ctx, meta) {
		case gateway.Bot:
			p.forward(ctx, events.ReasonExternalAPI, score, meta)
			return p.outcome(ActionWebhookExternalAPI, boolPtr(true), score)
		case gateway.Benign:
			return p.outcome(ActionHumanExternalAPI, boolPtr(false), score)
		}
		return p.outcome(ActionAPIInconclusive, nil, score)
	}

	return p.outcome(ActionLocalInconclusive, nil, score)
}

func (p *Pipeline) forward(ctx context.Context, reason string, score float64, meta *events.RequestMetadata) {
	if p.forwarder == nil {
		slog.Warn("no webhook receiver configured, verdict dropped",
			"reason", reason, "source", meta.SourceAddress)
		p.metrics.Inc("webhooks_dropped_unconfigured")
		return
	}
	// Best effort: the forwarder counts its own failures.
	_ = p.forwarder.Forward(ctx, events.NewVerdict(reason, score, *meta))
}

func (p *Pipeline) outcome(action string, isBot *bool, score float64) Outcome {
	p.metrics.Inc("escalate_" + action)
	return Outcome{Action: action, IsBot: isBot, Score: score}
}
