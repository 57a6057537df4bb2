package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mansingh-04/prooback/db"
	"github.com/mansingh-04/prooback/fetch"
	"github.com/mansingh-04/prooback/ml"
	"github.com/mansingh-04/prooback/monitoring"
)

// ScoringEngine 评分引擎
type ScoringEngine interface {
	PredictScore(html string) (ml.ScoreResult, error)
	TrainFromUserData(html string, userScore float64, feedback *ml.Feedback) (*ml.TrainResult, error)
	ResetModel() (*ml.ModelArtifact, error)
	Model() *ml.ModelArtifact
}

// PageFetcher 网页抓取
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

var (
	engine      ScoringEngine
	fetcher     PageFetcher
	metrics     *monitoring.Metrics
	wsHub       *monitoring.WebSocketHub
	performance *monitoring.PerformanceTracker
	logger      = zap.NewNop()
)

// 持久化钩子，测试中可替换
var (
	savePrediction    = db.SavePrediction
	saveTrainingEvent = db.SaveTrainingEvent
	loadTrainingLog   = db.LoadTrainingLog
	loadPredictions   = db.LoadPredictions
)

func SetEngine(e ScoringEngine) {
	engine = e
}

func SetFetcher(f PageFetcher) {
	fetcher = f
}

func SetMetrics(m *monitoring.Metrics) {
	metrics = m
}

func SetWebSocketHub(h *monitoring.WebSocketHub) {
	wsHub = h
}

func SetPerformanceTracker(pt *monitoring.PerformanceTracker) {
	performance = pt
}

func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

func RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/score", handleScore)
	mux.HandleFunc("POST /api/train-model", handleTrainModel)
	mux.HandleFunc("GET /api/model", handleModel)
	mux.HandleFunc("POST /api/model/reset", handleModelReset)
	mux.HandleFunc("GET /api/model/performance", handleModelPerformance)
	mux.HandleFunc("GET /api/training/history", handleTrainingHistory)
	mux.HandleFunc("GET /api/predictions", handlePredictions)
	mux.HandleFunc("GET /api/ws/model", handleModelWebSocket)
	mux.HandleFunc("GET /metrics", handleMetrics)

	// 兼容旧前端的路径
	mux.HandleFunc("POST /components", handleScore)
	mux.HandleFunc("POST /train-model", handleTrainModel)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if engine != nil {
		resp["model_version"] = engine.Model().Version
	}
	respondJSON(w, http.StatusOK, resp)
}

type scoreRequest struct {
	URL      string       `json:"url"`
	HTML     string       `json:"html"`
	Analysis *ml.Feedback `json:"analysis"`
}

type scoreResponse struct {
	Source       string  `json:"source"`
	WebsiteScore float64 `json:"website_score"`
	ModelVersion *int64  `json:"model_version,omitempty"`
}

func handleScore(w http.ResponseWriter, r *http.Request) {
	if engine == nil {
		respondError(w, http.StatusServiceUnavailable, "scoring engine not initialized")
		return
	}
	var req scoreRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var html, source string
	switch {
	case strings.TrimSpace(req.URL) != "":
		if fetcher == nil {
			respondError(w, http.StatusServiceUnavailable, "fetcher not initialized")
			return
		}
		page, err := fetcher.Fetch(r.Context(), req.URL)
		if err != nil {
			logger.Warn("fetch failed", zap.String("url", req.URL), zap.Error(err))
			status := http.StatusBadGateway
			var se *fetch.StatusError
			if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
				status = http.StatusNotFound
			}
			respondError(w, status, "failed to fetch website: "+err.Error())
			return
		}
		html, source = page, req.URL
	case req.HTML != "":
		html, source = req.HTML, "HTML input"
	case req.Analysis != nil:
		score := ml.ObservationScore(req.Analysis)
		if metrics != nil {
			metrics.ObservePrediction("analysis", score)
		}
		respondJSON(w, http.StatusOK, scoreResponse{Source: "Analysis input", WebsiteScore: score})
		return
	default:
		respondError(w, http.StatusBadRequest, "Either url, html or analysis is required")
		return
	}

	res, err := engine.PredictScore(html)
	if err != nil {
		logger.Error("predict failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "prediction failed")
		return
	}

	kind := "html"
	if source == req.URL {
		kind = "url"
	}
	if metrics != nil {
		metrics.ObservePrediction(kind, res.Score)
	}
	if err := savePrediction(db.Prediction{
		HTMLSHA256:   ml.ContentHash(html),
		Source:       source,
		Score:        res.Score,
		ModelVersion: res.ModelVersion,
	}); err != nil {
		logger.Warn("prediction not logged", zap.Error(err))
	}

	version := res.ModelVersion
	respondJSON(w, http.StatusOK, scoreResponse{Source: source, WebsiteScore: res.Score, ModelVersion: &version})
}

func handleModel(w http.ResponseWriter, r *http.Request) {
	if engine == nil {
		respondError(w, http.StatusServiceUnavailable, "scoring engine not initialized")
		return
	}
	a := engine.Model()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"version":        a.Version,
		"example_count":  a.ExampleCount,
		"schema_version": a.SchemaVersion,
		"bias":           a.Bias,
		"weights":        ml.FeatureVector(a.Weights).Named(),
		"created_at":     a.CreatedAt,
		"updated_at":     a.UpdatedAt,
	})
}

func handleModelReset(w http.ResponseWriter, r *http.Request) {
	if engine == nil {
		respondError(w, http.StatusServiceUnavailable, "scoring engine not initialized")
		return
	}
	a, err := engine.ResetModel()
	if err != nil {
		logger.Error("model reset failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "model reset failed: "+err.Error())
		return
	}
	if metrics != nil {
		metrics.ObserveModel(a)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"message":       "Model reset to baseline",
		"model_version": a.Version,
	})
}

func handleModelPerformance(w http.ResponseWriter, r *http.Request) {
	if performance == nil {
		respondError(w, http.StatusServiceUnavailable, "performance tracker not initialized")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": performance.CalculateMetrics(),
		"recent":  performance.GetRecords(queryLimit(r, 20)),
	})
}

func handleTrainingHistory(w http.ResponseWriter, r *http.Request) {
	events, err := loadTrainingLog(queryLimit(r, 50))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func handlePredictions(w http.ResponseWriter, r *http.Request) {
	predictions, err := loadPredictions(queryLimit(r, 50))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"predictions": predictions, "count": len(predictions)})
}

func handleModelWebSocket(w http.ResponseWriter, r *http.Request) {
	if wsHub == nil {
		respondError(w, http.StatusServiceUnavailable, "websocket hub not initialized")
		return
	}
	wsHub.HandleWebSocket(w, r)
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	if metrics == nil {
		respondError(w, http.StatusServiceUnavailable, "metrics not initialized")
		return
	}
	metrics.Handler().ServeHTTP(w, r)
}

func queryLimit(r *http.Request, def int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var ie *ml.InputError
		if errors.As(err, &ie) {
			return ie
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode JSON", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]interface{}{"error": msg, "timestamp": time.Now().UTC()})
}
