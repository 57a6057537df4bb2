package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mansingh-04/prooback/ml"
)

func TestObserveTrainingOutcomes(t *testing.T) {
	m := NewMetrics()

	m.ObserveTraining(&ml.TrainResult{OldScore: 40, NewScore: 50, ModelUpdated: true}, nil)
	m.ObserveTraining(&ml.TrainResult{OldScore: 40, NewScore: 40}, nil)
	m.ObserveTraining(nil, &ml.InputError{Field: "user_score", Reason: "bad"})
	m.ObserveTraining(&ml.TrainResult{OldScore: 40, NewScore: 45}, &ml.PersistenceError{Op: "rename", Err: errors.New("disk full")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainingTotal.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainingTotal.WithLabelValues("unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainingTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainingTotal.WithLabelValues("not_persisted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistenceFailures))
}

func TestModelListenerAndHandler(t *testing.T) {
	m := NewMetrics()
	m.ModelListener()(ml.ModelEvent{Type: ml.EventModelUpdated, Version: 4, ExampleCount: 4})
	m.ObservePrediction("html", 62)
	m.ObserveRequest(http.MethodPost, "/api/score", 200, 5*time.Millisecond)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.ModelVersion))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "scorer_model_version 4")
	assert.Contains(t, string(body), `scorer_predictions_total{source="html"} 1`)
	assert.Contains(t, string(body), "scorer_http_requests_total")
}

func TestNewMetricsTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}

func TestWebSocketHubPublishesModelEvents(t *testing.T) {
	snapshot := func() *ml.ModelArtifact {
		a := ml.Bootstrap()
		a.Version = 2
		return a
	}
	hub := NewWebSocketHub(nil, NewMetrics(), snapshot)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readMessage(t, conn)
	assert.Equal(t, Hello, hello.Type)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Listener()(ml.ModelEvent{Type: ml.EventModelUpdated, Version: 3, ExampleCount: 1, OldScore: 20, NewScore: 30})
	msg := readMessage(t, conn)
	assert.Equal(t, ModelUpdated, msg.Type)
	var ev ml.ModelEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, int64(3), ev.Version)
	assert.Equal(t, 30.0, ev.NewScore)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	assert.Equal(t, Pong, readMessage(t, conn).Type)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}
