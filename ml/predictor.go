package ml

// Predictor scores HTML with the active artifact. It never writes to the store.
type Predictor struct {
	extractor FeatureExtractor
	store     *Store
}

func NewPredictor(extractor FeatureExtractor, store *Store) *Predictor {
	return &Predictor{extractor: extractor, store: store}
}

// Predict extracts features from html and scores them. Malformed HTML is scored as a zero vector.
func (p *Predictor) Predict(html string) (ScoreResult, error) {
	return p.PredictVector(p.extractor.Extract(html))
}

func (p *Predictor) PredictVector(v FeatureVector) (ScoreResult, error) {
	artifact := p.store.Load()
	score, err := artifact.Score(v)
	if err != nil {
		return ScoreResult{}, err
	}
	return ScoreResult{Score: score, ModelVersion: artifact.Version}, nil
}
