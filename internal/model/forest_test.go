package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapewall/backend/internal/features"
)

// uaKnownBadIndex is the position of ua_is_known_bad in the key set.
const uaKnownBadIndex = 10

// stumpForest builds a one-split forest: known-bad UA means bot.
func stumpForest(windowSeconds int) *Forest {
	return &Forest{
		Version:      "test-1",
		FeatureNames: features.KeySet(windowSeconds),
		Classes:      []string{"human", "bot"},
		HashBuckets:  1024,
		Trees: []Tree{{
			ChildrenLeft:  []int{1, -1, -1},
			ChildrenRight: []int{2, -1, -1},
			Feature:       []int{uaKnownBadIndex, -2, -2},
			Threshold:     []float64{0.5, 0, 0},
			Value:         [][]float64{{0, 0}, {10, 0}, {0, 10}},
		}},
	}
}

func writeArtifact(t *testing.T, f *Forest) string {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadValidArtifact(t *testing.T) {
	path := writeArtifact(t, stumpForest(300))

	f, err := Load(path, 300)
	require.NoError(t, err)
	assert.Equal(t, "test-1", f.Version)
	assert.Len(t, f.Trees, 1)
}

func TestLoadRejectsFeatureMismatch(t *testing.T) {
	// Artifact trained against a 60s window cannot serve a 300s extractor.
	path := writeArtifact(t, stumpForest(60))

	_, err := Load(path, 300)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature set mismatch")
}

func TestLoadRejectsWrongClasses(t *testing.T) {
	f := stumpForest(300)
	f.Classes = []string{"bot", "human"}
	path := writeArtifact(t, f)

	_, err := Load(path, 300)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classes")
}

func TestLoadRejectsEmptyForest(t *testing.T) {
	f := stumpForest(300)
	f.Trees = nil
	path := writeArtifact(t, f)

	_, err := Load(path, 300)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"), 300)
	assert.Error(t, err)
}

func TestPredictProbabilitySplitsOnFeature(t *testing.T) {
	f := stumpForest(300)

	fm := features.FeatureMap{"ua_is_known_bad": float64(1)}
	probs, err := f.PredictProbability(fm)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{0, 1}, probs)

	fm["ua_is_known_bad"] = float64(0)
	probs, err = f.PredictProbability(fm)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{1, 0}, probs)
}

func TestPredictProbabilityAveragesTrees(t *testing.T) {
	f := stumpForest(300)
	// Second tree always votes human regardless of input.
	f.Trees = append(f.Trees, Tree{
		ChildrenLeft:  []int{-1},
		ChildrenRight: []int{-1},
		Feature:       []int{-2},
		Threshold:     []float64{0},
		Value:         [][]float64{{5, 0}},
	})

	probs, err := f.PredictProbability(features.FeatureMap{"ua_is_known_bad": float64(1)})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, probs[0], 1e-9)
	assert.InDelta(t, 0.5, probs[1], 1e-9)
}

func TestPredictProbabilityNormalizes(t *testing.T) {
	f := stumpForest(300)

	probs, err := f.PredictProbability(features.FeatureMap{"ua_is_known_bad": float64(1)})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-9)
}

func TestCategoricalHashingIsStable(t *testing.T) {
	f := stumpForest(300)

	a := f.encode("GET")
	b := f.encode("GET")
	c := f.encode("POST")
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, float64(0))
	assert.Less(t, a, float64(f.HashBuckets))
	assert.NotEqual(t, a, c)
}

func TestWalkRejectsCorruptTree(t *testing.T) {
	f := stumpForest(300)
	f.Trees[0].ChildrenRight[0] = 99 // dangling child index

	_, err := f.PredictProbability(features.FeatureMap{"ua_is_known_bad": float64(1)})
	assert.Error(t, err)
}
