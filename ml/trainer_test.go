package ml

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const buyForm = "<html><form><button>Buy</button></form></html>"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		ModelPath: filepath.Join(t.TempDir(), "score_model.json"),
		Train:     DefaultTrainConfig(),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, engine.TrainDummyModel())
	return engine
}

func TestTrainScenarioMovesTowardLabel(t *testing.T) {
	engine := newTestEngine(t)
	baseline, err := engine.PredictScore(buyForm)
	require.NoError(t, err)

	var events []ModelEvent
	engine.Subscribe(func(ev ModelEvent) { events = append(events, ev) })

	res, err := engine.TrainFromUserData(buyForm, 90, &Feedback{})
	require.NoError(t, err)
	assert.InDelta(t, baseline.Score, res.OldScore, 1e-9)
	assert.Less(t, math.Abs(90-res.NewScore), math.Abs(90-res.OldScore))
	assert.True(t, res.ModelUpdated)
	assert.Equal(t, int64(1), res.ModelVersion)

	after, err := engine.PredictScore(buyForm)
	require.NoError(t, err)
	assert.InDelta(t, res.NewScore, after.Score, 1e-9)
	assert.Equal(t, int64(1), after.ModelVersion)
	assert.Equal(t, int64(1), engine.Model().ExampleCount)

	require.Len(t, events, 1)
	assert.Equal(t, EventModelUpdated, events[0].Type)
}

func TestTrainRejectsInvalidScore(t *testing.T) {
	engine := newTestEngine(t)
	for _, score := range []float64{150, -1, 100.0001, math.NaN(), math.Inf(1)} {
		res, err := engine.TrainFromUserData(buyForm, score, nil)
		assert.Nil(t, res)
		require.Error(t, err)
		assert.True(t, IsInputError(err), "score %v", score)
	}
	assert.Equal(t, int64(0), engine.Model().Version)
}

func TestTrainRejectsEmptyHTML(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.TrainFromUserData("  ", 50, nil)
	var ie *InputError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "html", ie.Field)
	assert.Equal(t, int64(0), engine.Model().Version)
}

func TestTrainAlwaysImproves(t *testing.T) {
	pages := []string{buyForm, landingPage, "<p>hello</p>", "<<<garbage>>>"}
	labels := []float64{0, 3, 25, 50, 77.5, 100}
	for _, page := range pages {
		for _, label := range labels {
			engine := newTestEngine(t)
			res, err := engine.TrainFromUserData(page, label, nil)
			require.NoError(t, err)
			if res.OldScore == label {
				assert.False(t, res.ModelUpdated)
				continue
			}
			assert.Less(t, math.Abs(label-res.NewScore), math.Abs(label-res.OldScore), "label %v", label)
			assert.True(t, res.ModelUpdated)
		}
	}
}

func TestTrainStepIsBounded(t *testing.T) {
	engine := newTestEngine(t)
	for i := 0; i < 30; i++ {
		_, err := engine.TrainFromUserData(landingPage, 100, nil)
		require.NoError(t, err)
	}
	before, err := engine.PredictScore(landingPage)
	require.NoError(t, err)
	require.Greater(t, before.Score, 95.0)

	res, err := engine.TrainFromUserData(landingPage, 0, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.OldScore-res.NewScore, DefaultTrainConfig().MaxStep+1e-9)
	assert.Greater(t, res.NewScore, 0.0, "an outlier label never lands in one step")
}

func TestTrainNoopWhenLabelMatches(t *testing.T) {
	engine := newTestEngine(t)
	current, err := engine.PredictScore(buyForm)
	require.NoError(t, err)

	res, err := engine.TrainFromUserData(buyForm, current.Score, nil)
	require.NoError(t, err)
	assert.False(t, res.ModelUpdated)
	assert.Equal(t, res.OldScore, res.NewScore)
	assert.Equal(t, int64(0), engine.Model().Version)
}

func TestTrainInvalidFeedbackDoesNotBlock(t *testing.T) {
	engine := newTestEngine(t)
	fb := &Feedback{CTA: &Section{Observations: []string{""}}}
	res, err := engine.TrainFromUserData(buyForm, 80, fb)
	require.NoError(t, err)
	assert.True(t, res.ModelUpdated)
}

func TestTrainFeedbackDoesNotChangeUpdate(t *testing.T) {
	plain := newTestEngine(t)
	withFeedback := newTestEngine(t)

	a, err := plain.TrainFromUserData(landingPage, 70, nil)
	require.NoError(t, err)
	b, err := withFeedback.TrainFromUserData(landingPage, 70, &Feedback{
		TrustSignals: &Section{Observations: []string{"Testimonials are prominent"}},
		Comment:      "nice",
	})
	require.NoError(t, err)
	assert.Equal(t, a.NewScore, b.NewScore)
	assert.True(t, plain.Model().SameParameters(withFeedback.Model()))
}

func TestTrainPersistenceFailureReportsScores(t *testing.T) {
	engine := newTestEngine(t)
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	dir := filepath.Dir(engine.Store().Path())
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	res, err := engine.TrainFromUserData(buyForm, 95, nil)
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	require.NotNil(t, res)
	assert.False(t, res.ModelUpdated)
	assert.Greater(t, res.NewScore, res.OldScore)
	assert.Equal(t, int64(0), engine.Model().Version)
}

func TestConcurrentTrainingLosesNoUpdates(t *testing.T) {
	engine := newTestEngine(t)
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			label := 100.0
			if i%2 == 0 {
				label = 0
			}
			_, err := engine.TrainFromUserData(landingPage, label, nil)
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.PredictScore(landingPage)
			assert.NoError(t, err)
			assert.GreaterOrEqual(t, res.Score, 0.0)
			assert.LessOrEqual(t, res.Score, 100.0)
		}()
	}
	wg.Wait()

	model := engine.Model()
	assert.Equal(t, int64(n), model.Version)
	assert.Equal(t, int64(n), model.ExampleCount)
}

func TestResetDuringLoadsDoesNotBootstrap(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.TrainFromUserData(buyForm, 90, nil)
	require.NoError(t, err)

	var bootstraps atomic.Int32
	engine.Store().SetBootstrapHook(func(string) { bootstraps.Add(1) })

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					assert.NoError(t, engine.Model().Validate())
				}
			}
		}()
	}

	var resets atomic.Int32
	engine.Subscribe(func(ev ModelEvent) {
		if ev.Type == EventModelReset {
			resets.Add(1)
		}
	})
	for i := 0; i < 50; i++ {
		artifact, err := engine.ResetModel()
		require.NoError(t, err)
		assert.Equal(t, int64(0), artifact.Version)
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, bootstraps.Load())
	assert.EqualValues(t, 50, resets.Load())
	assert.Equal(t, int64(0), engine.Model().Version)
}

func TestTrainVectorDimensionMismatch(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.TrainVector(FeatureVector{1, 2}, 50)
	require.Error(t, err)
	assert.True(t, IsInputError(err))
}

func TestTrainConfigNormalized(t *testing.T) {
	cfg := TrainConfig{LearningRate: 3, MaxStep: -1}.normalized()
	assert.Equal(t, DefaultTrainConfig(), cfg)
	cfg = TrainConfig{LearningRate: 1, MaxStep: 5}.normalized()
	assert.Equal(t, 1.0, cfg.LearningRate)
	assert.Equal(t, 5.0, cfg.MaxStep)
}
