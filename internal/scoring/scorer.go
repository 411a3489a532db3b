// Package scoring combines the rule heuristics with the classifier's bot
// probability into one bounded composite score.
package scoring

import (
	"log/slog"

	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/features"
	"github.com/scrapewall/backend/internal/kvstore"
	"github.com/scrapewall/backend/internal/metrics"
)

// Rule weights. Tuned against the labelled corpus; changing one shifts the
// decision thresholds too.
const (
	weightKnownBad     = 0.7
	weightEmptyUA      = 0.5
	weightDisallowed   = 0.6
	weightHighFreq     = 0.3
	weightElevatedFreq = 0.1
	weightFastRepeat   = 0.2
	creditBenign       = 0.5

	highFreqCount     = 60
	elevatedFreqCount = 30
	fastRepeatSeconds = 0.3

	ruleWeight  = 0.3
	modelWeight = 0.7
)

// Thresholds hold the decision cut points.
type Thresholds struct {
	Low    float64
	Medium float64
	High   float64
}

// DefaultThresholds per the shipped tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.3, Medium: 0.6, High: 0.8}
}

// Classifier is the probability contract of the loaded model artifact.
type Classifier interface {
	PredictProbability(features.FeatureMap) ([2]float64, error)
}

// Scorer evaluates requests. The classifier is optional; without one the
// composite score is the rule score alone.
type Scorer struct {
	analyzer   *features.Analyzer
	classifier Classifier
	thresholds Thresholds
	metrics    *metrics.Store
}

// New builds a scorer. classifier may be nil when no artifact is loaded.
func New(analyzer *features.Analyzer, classifier Classifier, t Thresholds, m *metrics.Store) *Scorer {
	return &Scorer{analyzer: analyzer, classifier: classifier, thresholds: t, metrics: m}
}

// Thresholds returns the configured cut points.
func (s *Scorer) Thresholds() Thresholds {
	return s.thresholds
}

// RuleScore applies the heuristic weights to one request. The result is
// clamped to [0, 1].
func (s *Scorer) RuleScore(meta *events.RequestMetadata, freq kvstore.FreqInfo) float64 {
	ua := meta.UserAgent
	known := s.analyzer.Lists.IsKnownBad(ua)
	benign := s.analyzer.Lists.IsKnownBenign(ua)

	score := 0.0
	if known && !benign {
		score += weightKnownBad
	}
	if ua == "" {
		score += weightEmptyUA
	}
	if s.analyzer.Robots.Disallowed(meta.Path) && !benign {
		score += weightDisallowed
	}
	switch {
	case freq.CountBefore > highFreqCount:
		score += weightHighFreq
	case freq.CountBefore > elevatedFreqCount:
		score += weightElevatedFreq
	}
	if freq.SinceLastSec >= 0 && freq.SinceLastSec < fastRepeatSeconds {
		score += weightFastRepeat
	}
	if benign {
		score -= creditBenign
	}
	return clamp(score)
}

// Composite folds the rule score with the model's bot probability. When the
// model errors or is absent the rule score stands alone; model failures
// increment the model error counter and never fail the analysis.
func (s *Scorer) Composite(meta *events.RequestMetadata, freq kvstore.FreqInfo, fm features.FeatureMap) float64 {
	rule := s.RuleScore(meta, freq)
	if s.classifier == nil {
		return rule
	}

	probs, err := s.classifier.PredictProbability(fm)
	if err != nil {
		slog.Error("model prediction failed", "source", meta.SourceAddress, "error", err)
		s.metrics.Inc("model_errors_prediction")
		return rule
	}
	return clamp(ruleWeight*rule + modelWeight*probs[1])
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
