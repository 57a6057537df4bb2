package ml

import (
	"os"

	"go.uber.org/zap"
)

// EngineConfig wires an Engine.
type EngineConfig struct {
	ModelPath string
	CacheSize int // negative disables the extraction cache
	Train     TrainConfig
}

// Engine is the scoring core exposed to the route layer.
type Engine struct {
	store     *Store
	predictor *Predictor
	trainer   *Trainer
	extractor FeatureExtractor
	logger    *zap.Logger
}

func NewEngine(cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var extractor FeatureExtractor = NewExtractor()
	if cfg.CacheSize >= 0 {
		cached, err := NewCachedExtractor(extractor, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		extractor = cached
	}
	store := NewStore(cfg.ModelPath, logger.Named("store"))
	return &Engine{
		store:     store,
		predictor: NewPredictor(extractor, store),
		trainer:   NewTrainer(extractor, store, cfg.Train, logger.Named("trainer")),
		extractor: extractor,
		logger:    logger,
	}, nil
}

func (e *Engine) Store() *Store {
	return e.store
}

// Subscribe registers l for model update and reset events.
func (e *Engine) Subscribe(l Listener) {
	e.trainer.Subscribe(l)
}

// Extract exposes the engine's feature extractor.
func (e *Engine) Extract(html string) FeatureVector {
	return e.extractor.Extract(html)
}

// PredictScore scores html with the active model.
func (e *Engine) PredictScore(html string) (ScoreResult, error) {
	return e.predictor.Predict(html)
}

// TrainFromUserData applies one labelled example. On a *PersistenceError the result is still returned
// with ModelUpdated false.
func (e *Engine) TrainFromUserData(html string, userScore float64, feedback *Feedback) (*TrainResult, error) {
	return e.trainer.Train(html, userScore, feedback)
}

// TrainVector applies one labelled example from stored features.
func (e *Engine) TrainVector(v FeatureVector, userScore float64) (*TrainResult, error) {
	return e.trainer.TrainVector(v, userScore)
}

// TrainDummyModel replaces any existing artifact with the baseline.
func (e *Engine) TrainDummyModel() error {
	_, err := e.trainer.ResetToBaseline()
	return err
}

// ResetModel is TrainDummyModel returning the new artifact.
func (e *Engine) ResetModel() (*ModelArtifact, error) {
	return e.trainer.ResetToBaseline()
}

// Model returns a copy of the active artifact.
func (e *Engine) Model() *ModelArtifact {
	return e.store.Load()
}

// ModelExists reports whether an artifact is persisted at the configured path.
func (e *Engine) ModelExists() bool {
	_, err := os.Stat(e.store.Path())
	return err == nil
}
