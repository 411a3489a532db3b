// Package model loads the serialized classifier artifact and answers the
// probability contract predict_probability(features) -> [p_human, p_bot].
//
// The artifact is a portable JSON export of the trained random forest:
// feature names in training order, the class order, and one flattened node
// array per tree. Categorical features are hashed into a fixed bucket space
// at inference time, matching the hashing applied during training.
package model

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/scrapewall/backend/internal/features"
)

// leafMarker is the feature index stored on leaf nodes.
const leafMarker = -2

// Tree is one decision tree in scikit-learn's flattened array layout.
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

// Forest is the loaded classifier artifact.
type Forest struct {
	Version      string   `json:"version"`
	FeatureNames []string `json:"feature_names"`
	Classes      []string `json:"classes"`
	HashBuckets  int      `json:"categorical_hash_buckets"`
	Trees        []Tree   `json:"trees"`
}

// Load reads and validates an artifact file. The feature name list must
// match the extractor's key set byte for byte; a mismatch means the artifact
// was trained against a different extractor and is a startup error.
func Load(path string, windowSeconds int) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}

	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if err := f.validate(windowSeconds); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Forest) validate(windowSeconds int) error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("model artifact has no trees")
	}
	if len(f.Classes) != 2 || f.Classes[0] != "human" || f.Classes[1] != "bot" {
		return fmt.Errorf("model artifact classes must be [human bot], got %v", f.Classes)
	}
	if f.HashBuckets <= 0 {
		f.HashBuckets = 1024
	}

	expected := features.KeySet(windowSeconds)
	if len(f.FeatureNames) != len(expected) {
		return fmt.Errorf("model artifact has %d features, extractor produces %d",
			len(f.FeatureNames), len(expected))
	}
	for i, name := range expected {
		if f.FeatureNames[i] != name {
			return fmt.Errorf("feature set mismatch at %d: artifact %q, extractor %q",
				i, f.FeatureNames[i], name)
		}
	}
	return nil
}

// PredictProbability walks every tree and averages the normalized leaf class
// distributions.
func (f *Forest) PredictProbability(fm features.FeatureMap) ([2]float64, error) {
	vector := make([]float64, len(f.FeatureNames))
	for i, name := range f.FeatureNames {
		vector[i] = f.encode(fm[name])
	}

	var sum [2]float64
	for ti := range f.Trees {
		leaf, err := f.Trees[ti].walk(vector)
		if err != nil {
			return [2]float64{}, fmt.Errorf("tree %d: %w", ti, err)
		}
		total := leaf[0] + leaf[1]
		if total <= 0 {
			continue
		}
		sum[0] += leaf[0] / total
		sum[1] += leaf[1] / total
	}
	n := float64(len(f.Trees))
	return [2]float64{sum[0] / n, sum[1] / n}, nil
}

// encode converts a feature value into the numeric space the trees were
// trained on. Strings hash into a stable bucket index.
func (f *Forest) encode(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		h := fnv.New32a()
		h.Write([]byte(val))
		return float64(h.Sum32() % uint32(f.HashBuckets))
	default:
		return -1
	}
}

func (t *Tree) walk(vector []float64) ([2]float64, error) {
	node := 0
	for steps := 0; steps < len(t.Feature)+1; steps++ {
		if node < 0 || node >= len(t.Feature) {
			return [2]float64{}, fmt.Errorf("node index %d out of range", node)
		}
		fi := t.Feature[node]
		if fi == leafMarker {
			val := t.Value[node]
			if len(val) != 2 {
				return [2]float64{}, fmt.Errorf("leaf %d has %d classes", node, len(val))
			}
			return [2]float64{val[0], val[1]}, nil
		}
		if fi < 0 || fi >= len(vector) {
			return [2]float64{}, fmt.Errorf("feature index %d out of range", fi)
		}
		if vector[fi] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return [2]float64{}, fmt.Errorf("tree walk did not terminate")
}
