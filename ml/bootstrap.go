package ml

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v2"
)

//go:embed baseline.yaml
var baselineYAML []byte

type baselineParams struct {
	Bias    float64            `yaml:"bias"`
	Weights map[string]float64 `yaml:"weights"`
}

var baseline = mustParseBaseline(baselineYAML)

func mustParseBaseline(raw []byte) baselineParams {
	params, err := parseBaseline(raw)
	if err != nil {
		panic(err)
	}
	return params
}

func parseBaseline(raw []byte) (baselineParams, error) {
	var params baselineParams
	if err := yaml.Unmarshal(raw, &params); err != nil {
		return params, fmt.Errorf("parse baseline: %w", err)
	}
	return params, nil
}

// Bootstrap returns the baseline artifact at version 0. Parameters are identical on every call.
func Bootstrap() *ModelArtifact {
	return bootstrapFrom(baseline, time.Now().UTC())
}

func bootstrapFrom(params baselineParams, now time.Time) *ModelArtifact {
	names := FeatureNames()
	weights := make([]float64, len(names))
	for i, name := range names {
		weights[i] = params.Weights[name]
	}
	return &ModelArtifact{
		SchemaVersion: FeatureSchemaVersion,
		FeatureNames:  names,
		Bias:          params.Bias,
		Weights:       weights,
		Version:       0,
		ExampleCount:  0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
