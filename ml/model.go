package ml

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Score range produced by every model.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// ModelArtifact is the persisted linear scoring model.
type ModelArtifact struct {
	SchemaVersion int       `json:"schema_version"`
	FeatureNames  []string  `json:"feature_names"`
	Bias          float64   `json:"bias"`
	Weights       []float64 `json:"weights"`
	Version       int64     `json:"version"`
	ExampleCount  int64     `json:"example_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ScoreResult is a bounded score and the artifact version that produced it.
type ScoreResult struct {
	Score        float64 `json:"score"`
	ModelVersion int64   `json:"model_version"`
}

// Raw returns the unclamped linear output for v.
func (m *ModelArtifact) Raw(v FeatureVector) (float64, error) {
	if len(v) != len(m.Weights) {
		return 0, fmt.Errorf("%w: vector has %d features, model expects %d", ErrDimensionMismatch, len(v), len(m.Weights))
	}
	return m.Bias + floats.Dot(m.Weights, v), nil
}

// Score returns the linear output for v clamped to [MinScore, MaxScore].
func (m *ModelArtifact) Score(v FeatureVector) (float64, error) {
	raw, err := m.Raw(v)
	if err != nil {
		return 0, err
	}
	return ClampScore(raw), nil
}

// Clone returns a deep copy.
func (m *ModelArtifact) Clone() *ModelArtifact {
	if m == nil {
		return nil
	}
	c := *m
	c.FeatureNames = slices.Clone(m.FeatureNames)
	c.Weights = slices.Clone(m.Weights)
	return &c
}

// Validate reports whether the artifact matches the current feature schema.
func (m *ModelArtifact) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: empty artifact", ErrCorruptArtifact)
	}
	if m.SchemaVersion != FeatureSchemaVersion {
		return fmt.Errorf("%w: schema version %d, want %d", ErrCorruptArtifact, m.SchemaVersion, FeatureSchemaVersion)
	}
	if len(m.Weights) != FeatureDim {
		return fmt.Errorf("%w: %d weights, want %d", ErrDimensionMismatch, len(m.Weights), FeatureDim)
	}
	if !slices.Equal(m.FeatureNames, FeatureNames()) {
		return fmt.Errorf("%w: feature names differ from extractor", ErrCorruptArtifact)
	}
	if math.IsNaN(m.Bias) || math.IsInf(m.Bias, 0) {
		return fmt.Errorf("%w: non-finite bias", ErrCorruptArtifact)
	}
	for i, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: non-finite weight %s", ErrCorruptArtifact, m.FeatureNames[i])
		}
	}
	if m.Version < 0 || m.ExampleCount < 0 {
		return fmt.Errorf("%w: negative counters", ErrCorruptArtifact)
	}
	return nil
}

// SameParameters reports whether two artifacts score identically.
func (m *ModelArtifact) SameParameters(other *ModelArtifact) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Bias == other.Bias && slices.Equal(m.Weights, other.Weights)
}
