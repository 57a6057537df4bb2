package http

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mansingh-04/prooback/ml"
)

// failingEngine 模拟模型保存失败
type failingEngine struct {
	ScoringEngine
	model *ml.ModelArtifact
}

func (f failingEngine) TrainFromUserData(html string, userScore float64, feedback *ml.Feedback) (*ml.TrainResult, error) {
	return &ml.TrainResult{OldScore: 24, NewScore: 40, ModelUpdated: false, ModelVersion: f.model.Version},
		&ml.PersistenceError{Op: "rename", Path: "score_model.json", Err: errors.New("read-only file system")}
}

func TestTrainModelHandler(t *testing.T) {
	e, calls := setupHandlers(t)
	before, err := e.PredictScore(buyForm)
	require.NoError(t, err)

	rr := serve(t, "POST", "/api/train-model", `{"html":"`+buyForm+`","user_score":90}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Model trained successfully", body["message"])
	assert.Equal(t, true, body["model_updated"])
	assert.InDelta(t, before.Score, body["old_score"], 1e-9)
	newScore, ok := body["new_score"].(float64)
	require.True(t, ok)
	assert.Greater(t, newScore, before.Score)
	assert.LessOrEqual(t, newScore, 90.0)

	require.Len(t, calls.events, 1)
	ev := calls.events[0]
	assert.Equal(t, ml.ContentHash(buyForm), ev.HTMLSHA256)
	assert.Equal(t, 90.0, ev.UserScore)
	assert.EqualValues(t, 1, ev.ModelVersion)
	assert.Len(t, ev.Features, ml.FeatureDim)
}

func TestTrainModelHandlerNumericString(t *testing.T) {
	setupHandlers(t)

	rr := serve(t, "POST", "/api/train-model", `{"html":"`+buyForm+`","user_score":" 75.5 "}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, decodeBody(t, rr)["success"])

	rr = serve(t, "POST", "/api/train-model", `{"html":"`+buyForm+`","user_score":"high"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeBody(t, rr)["error"], "user_score")
}

func TestTrainModelHandlerRejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing html", `{"user_score":50}`, "Missing required fields"},
		{"missing score", `{"html":"<p>x</p>"}`, "Missing required fields"},
		{"null score", `{"html":"<p>x</p>","user_score":null}`, "Missing required fields"},
		{"score too high", `{"html":"<p>x</p>","user_score":150}`, "user_score"},
		{"negative score", `{"html":"<p>x</p>","user_score":-1}`, "user_score"},
		{"empty html", `{"html":"","user_score":50}`, "html"},
		{"boolean score", `{"html":"<p>x</p>","user_score":true}`, "user_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, calls := setupHandlers(t)

			rr := serve(t, "POST", "/api/train-model", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Contains(t, decodeBody(t, rr)["error"], tt.wantErr)
			assert.Empty(t, calls.events)
			assert.EqualValues(t, 0, e.Model().Version)
		})
	}
}

func TestTrainModelHandlerPersistenceFailure(t *testing.T) {
	e, calls := setupHandlers(t)
	SetEngine(failingEngine{ScoringEngine: e, model: e.Model()})

	rr := serve(t, "POST", "/api/train-model", `{"html":"`+buyForm+`","user_score":90}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, false, body["model_updated"])
	assert.InDelta(t, 24.0, body["old_score"], 1e-9)
	assert.InDelta(t, 40.0, body["new_score"], 1e-9)
	assert.Contains(t, body["error"], "read-only file system")

	require.Len(t, calls.events, 1)
	assert.False(t, calls.events[0].ModelUpdated)
}

func TestTrainModelHandlerFeedback(t *testing.T) {
	setupHandlers(t)

	rr := serve(t, "POST", "/api/train-model",
		`{"html":"`+buyForm+`","user_score":60,"user_feedback":{"cta":{"observations":["Button is clear"]},"comment":"ok"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// 格式错误的反馈被丢弃，训练照常进行
	rr = serve(t, "POST", "/api/train-model",
		`{"html":"`+buyForm+`","user_score":60,"user_feedback":{"cta":"not-an-object"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestParseFeedback(t *testing.T) {
	assert.Nil(t, parseFeedback(nil))
	assert.Nil(t, parseFeedback([]byte("null")))
	assert.Nil(t, parseFeedback([]byte(`[1,2]`)))
	assert.Nil(t, parseFeedback([]byte(`{"cta":{"observations":["  "]}}`)))

	fb := parseFeedback([]byte(`{"trust_signals":{"observations":["Reviews visible"]}}`))
	require.NotNil(t, fb)
	require.NotNil(t, fb.TrustSignals)
	assert.Equal(t, []string{"Reviews visible"}, fb.TrustSignals.Observations)
}
