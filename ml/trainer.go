package ml

import (
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

const noopTolerance = 1e-9

// TrainConfig bounds the online update.
type TrainConfig struct {
	// LearningRate is the fraction of the prediction error closed per example, in (0,1].
	LearningRate float64 `yaml:"learning_rate"`
	// MaxStep caps how far one example can move the score for its own features.
	MaxStep float64 `yaml:"max_step"`
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{LearningRate: 0.5, MaxStep: 15}
}

func (c TrainConfig) normalized() TrainConfig {
	d := DefaultTrainConfig()
	if !(c.LearningRate > 0 && c.LearningRate <= 1) {
		c.LearningRate = d.LearningRate
	}
	if !(c.MaxStep > 0) || math.IsInf(c.MaxStep, 0) {
		c.MaxStep = d.MaxStep
	}
	return c
}

// TrainResult reports the score of one example before and after an update.
type TrainResult struct {
	OldScore     float64       `json:"old_score"`
	NewScore     float64       `json:"new_score"`
	ModelUpdated bool          `json:"model_updated"`
	ModelVersion int64         `json:"model_version"`
	Features     FeatureVector `json:"-"`
}

// Model event types.
const (
	EventModelUpdated = "model_updated"
	EventModelReset   = "model_reset"
)

// ModelEvent describes a change of the active artifact.
type ModelEvent struct {
	Type         string    `json:"type"`
	Version      int64     `json:"version"`
	ExampleCount int64     `json:"example_count"`
	OldScore     float64   `json:"old_score,omitempty"`
	NewScore     float64   `json:"new_score,omitempty"`
	At           time.Time `json:"at"`
}

// Listener receives model events after they are persisted.
type Listener func(ModelEvent)

// Trainer is the only writer of the store. Updates are serialised.
type Trainer struct {
	extractor FeatureExtractor
	store     *Store
	cfg       TrainConfig
	logger    *zap.Logger

	mu        sync.Mutex
	listeners []Listener
}

func NewTrainer(extractor FeatureExtractor, store *Store, cfg TrainConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{extractor: extractor, store: store, cfg: cfg.normalized(), logger: logger}
}

// Subscribe adds a listener. Listeners run synchronously and must not block.
func (t *Trainer) Subscribe(l Listener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// Train nudges the model's score for html toward userScore.
// Feedback is validated and logged but never changes the numeric update; invalid feedback is dropped.
func (t *Trainer) Train(html string, userScore float64, feedback *Feedback) (*TrainResult, error) {
	if err := ValidateUserScore(userScore); err != nil {
		return nil, err
	}
	if strings.TrimSpace(html) == "" {
		return nil, &InputError{Field: "html", Reason: "required"}
	}
	if err := feedback.Validate(); err != nil {
		t.logger.Warn("dropping invalid feedback", zap.Error(err))
	}
	return t.TrainVector(t.extractor.Extract(html), userScore)
}

// TrainVector applies one update for precomputed features.
func (t *Trainer) TrainVector(v FeatureVector, userScore float64) (*TrainResult, error) {
	if err := ValidateUserScore(userScore); err != nil {
		return nil, err
	}
	if err := ValidateVector(v); err != nil {
		return nil, &InputError{Field: "features", Reason: err.Error()}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.store.Load()
	raw, err := current.Raw(v)
	if err != nil {
		return nil, err
	}
	oldScore := ClampScore(raw)
	result := &TrainResult{
		OldScore:     oldScore,
		NewScore:     oldScore,
		ModelVersion: current.Version,
		Features:     v,
	}

	residual := userScore - oldScore
	if math.Abs(residual) < noopTolerance {
		return result, nil
	}

	updated := t.update(current, v, raw, residual)
	newScore, err := updated.Score(v)
	if err != nil {
		return nil, err
	}
	result.NewScore = newScore
	if updated.SameParameters(current) {
		return result, nil
	}

	if err := t.store.Save(updated); err != nil {
		t.logger.Error("model update not persisted",
			zap.Float64("old_score", oldScore),
			zap.Float64("new_score", newScore),
			zap.Error(err))
		return result, err
	}
	result.ModelUpdated = true
	result.ModelVersion = updated.Version

	t.logger.Info("model updated",
		zap.Int64("version", updated.Version),
		zap.Float64("label", userScore),
		zap.Float64("old_score", oldScore),
		zap.Float64("new_score", newScore))
	t.emit(ModelEvent{
		Type:         EventModelUpdated,
		Version:      updated.Version,
		ExampleCount: updated.ExampleCount,
		OldScore:     oldScore,
		NewScore:     newScore,
		At:           updated.UpdatedAt,
	})
	return result, nil
}

// update moves raw(v) to oldScore+step with the smallest parameter change, where step is the
// residual scaled by the learning rate and capped at MaxStep. The bias counts as a constant input of 1.
func (t *Trainer) update(current *ModelArtifact, v FeatureVector, raw, residual float64) *ModelArtifact {
	step := t.cfg.LearningRate * residual
	step = math.Max(-t.cfg.MaxStep, math.Min(t.cfg.MaxStep, step))
	target := ClampScore(raw) + step

	delta := (target - raw) / (1 + floats.Dot(v, v))

	updated := current.Clone()
	updated.Bias += delta
	floats.AddScaled(updated.Weights, delta, v)
	updated.Version++
	updated.ExampleCount++
	updated.UpdatedAt = time.Now().UTC()
	return updated
}

// ResetToBaseline removes the persisted artifact and replaces it with a freshly bootstrapped one.
func (t *Trainer) ResetToBaseline() (*ModelArtifact, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	artifact := Bootstrap()
	if err := t.store.Replace(artifact); err != nil {
		return nil, err
	}
	t.logger.Info("model reset to baseline", zap.String("path", t.store.Path()))
	t.emit(ModelEvent{Type: EventModelReset, Version: artifact.Version, At: artifact.UpdatedAt})
	return artifact.Clone(), nil
}

func (t *Trainer) emit(ev ModelEvent) {
	for _, l := range t.listeners {
		l(ev)
	}
}

// ValidateUserScore rejects labels outside [0,100] and non-finite values.
func ValidateUserScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return &InputError{Field: "user_score", Reason: "must be a finite number"}
	}
	if score < MinScore || score > MaxScore {
		return &InputError{Field: "user_score", Reason: "must be between 0 and 100"}
	}
	return nil
}
