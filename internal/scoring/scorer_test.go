package scoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/features"
	"github.com/scrapewall/backend/internal/kvstore"
	"github.com/scrapewall/backend/internal/metrics"
)

type fixedClassifier struct {
	pBot float64
	err  error
}

func (c *fixedClassifier) PredictProbability(features.FeatureMap) ([2]float64, error) {
	if c.err != nil {
		return [2]float64{}, c.err
	}
	return [2]float64{1 - c.pBot, c.pBot}, nil
}

func newTestScorer(c Classifier) *Scorer {
	analyzer := features.NewAnalyzer(nil, features.NewRobots([]string{"/wp-login.php", "/admin"}))
	return New(analyzer, c, DefaultThresholds(), metrics.NewStore("test"))
}

func meta(ua, path string) *events.RequestMetadata {
	return &events.RequestMetadata{
		Timestamp:     "2026-08-24T15:00:00Z",
		SourceAddress: "1.2.3.4",
		UserAgent:     ua,
		Path:          path,
		SourceLabel:   "proxy",
	}
}

func quiet() kvstore.FreqInfo {
	return kvstore.FreqInfo{CountBefore: 0, SinceLastSec: -1, WindowSeconds: 300}
}

func TestRuleScoreKnownBadUA(t *testing.T) {
	s := newTestScorer(nil)
	score := s.RuleScore(meta("python-requests/2.31", "/products"), quiet())
	assert.InDelta(t, 0.7, score, 1e-9)
}

func TestRuleScoreEmptyUA(t *testing.T) {
	s := newTestScorer(nil)
	score := s.RuleScore(meta("", "/products"), quiet())
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestRuleScoreDisallowedPath(t *testing.T) {
	s := newTestScorer(nil)
	score := s.RuleScore(meta("Mozilla/5.0 (Windows NT 10.0) Chrome/120.0", "/wp-login.php"), quiet())
	assert.InDelta(t, 0.6, score, 1e-9)
}

func TestRuleScoreFrequencyBands(t *testing.T) {
	s := newTestScorer(nil)
	m := meta("Mozilla/5.0 (Windows NT 10.0) Chrome/120.0", "/products")

	low := s.RuleScore(m, kvstore.FreqInfo{CountBefore: 30, SinceLastSec: 5, WindowSeconds: 300})
	assert.InDelta(t, 0.0, low, 1e-9)

	elevated := s.RuleScore(m, kvstore.FreqInfo{CountBefore: 31, SinceLastSec: 5, WindowSeconds: 300})
	assert.InDelta(t, 0.1, elevated, 1e-9)

	high := s.RuleScore(m, kvstore.FreqInfo{CountBefore: 61, SinceLastSec: 5, WindowSeconds: 300})
	assert.InDelta(t, 0.3, high, 1e-9)
}

func TestRuleScoreFastRepeat(t *testing.T) {
	s := newTestScorer(nil)
	m := meta("Mozilla/5.0 (Windows NT 10.0) Chrome/120.0", "/products")

	fast := s.RuleScore(m, kvstore.FreqInfo{CountBefore: 1, SinceLastSec: 0.2, WindowSeconds: 300})
	assert.InDelta(t, 0.2, fast, 1e-9)

	// First request in the window carries the -1 sentinel, not a fast repeat.
	first := s.RuleScore(m, quiet())
	assert.InDelta(t, 0.0, first, 1e-9)

	slow := s.RuleScore(m, kvstore.FreqInfo{CountBefore: 1, SinceLastSec: 0.3, WindowSeconds: 300})
	assert.InDelta(t, 0.0, slow, 1e-9)
}

func TestRuleScoreBenignCrawlerStaysBelowLowThreshold(t *testing.T) {
	s := newTestScorer(nil)
	// Benign crawlers skip the known-bad and robots weights and earn credit,
	// so even a disallowed path scores below the low threshold.
	score := s.RuleScore(meta("Mozilla/5.0 (compatible; Googlebot/2.1)", "/wp-login.php"), quiet())
	assert.Less(t, score, DefaultThresholds().Low)
}

func TestRuleScoreClampsToUnitInterval(t *testing.T) {
	s := newTestScorer(nil)

	// Every penalty at once: 0.7 + 0.5 is impossible (empty UA is not known
	// bad), but bad UA + disallowed + high freq + fast repeat exceeds 1.
	worst := s.RuleScore(meta("sqlmap", "/admin"),
		kvstore.FreqInfo{CountBefore: 100, SinceLastSec: 0.1, WindowSeconds: 300})
	assert.Equal(t, 1.0, worst)

	benign := s.RuleScore(meta("Googlebot/2.1", "/"), quiet())
	assert.Equal(t, 0.0, benign)
}

func TestRuleScoreRangeProperty(t *testing.T) {
	s := newTestScorer(nil)
	agents := []string{"", "sqlmap", "Googlebot/2.1", "Mozilla/5.0 Chrome/120.0", "curl/8.0"}
	paths := []string{"/", "/admin", "/wp-login.php", "/docs"}
	freqs := []kvstore.FreqInfo{
		quiet(),
		{CountBefore: 31, SinceLastSec: 0.1, WindowSeconds: 300},
		{CountBefore: 100, SinceLastSec: 0.01, WindowSeconds: 300},
	}
	for _, ua := range agents {
		for _, p := range paths {
			for _, fr := range freqs {
				score := s.RuleScore(meta(ua, p), fr)
				assert.GreaterOrEqual(t, score, 0.0, "ua=%q path=%q", ua, p)
				assert.LessOrEqual(t, score, 1.0, "ua=%q path=%q", ua, p)
			}
		}
	}
}

func TestCompositeWithoutClassifierIsRuleScore(t *testing.T) {
	s := newTestScorer(nil)
	m := meta("python-requests/2.31", "/products")
	fm := s.analyzer.Extract(m, quiet())

	assert.InDelta(t, s.RuleScore(m, quiet()), s.Composite(m, quiet(), fm), 1e-9)
}

func TestCompositeFoldsModelProbability(t *testing.T) {
	s := newTestScorer(&fixedClassifier{pBot: 0.9})
	m := meta("python-requests/2.31", "/products")
	fm := s.analyzer.Extract(m, quiet())

	// 0.3*0.7 + 0.7*0.9
	assert.InDelta(t, 0.84, s.Composite(m, quiet(), fm), 1e-9)
}

func TestCompositeFallsBackOnModelError(t *testing.T) {
	store := metrics.NewStore("test")
	analyzer := features.NewAnalyzer(nil, nil)
	s := New(analyzer, &fixedClassifier{err: fmt.Errorf("boom")}, DefaultThresholds(), store)

	m := meta("python-requests/2.31", "/products")
	fm := analyzer.Extract(m, quiet())

	assert.InDelta(t, 0.7, s.Composite(m, quiet(), fm), 1e-9)
	assert.Equal(t, uint64(1), store.Get("model_errors_prediction"))
}

func TestCompositeStaysInUnitInterval(t *testing.T) {
	s := newTestScorer(&fixedClassifier{pBot: 1.0})
	m := meta("sqlmap", "/admin")
	fr := kvstore.FreqInfo{CountBefore: 100, SinceLastSec: 0.1, WindowSeconds: 300}
	fm := s.analyzer.Extract(m, fr)

	score := s.Composite(m, fr, fm)
	assert.LessOrEqual(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)
}
