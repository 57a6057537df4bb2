package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mansingh-04/prooback/ml"
)

// Metrics 评分服务的 Prometheus 指标，注册在私有 registry 上
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	Predictions         *prometheus.CounterVec
	PredictionScores    prometheus.Histogram
	TrainingTotal       *prometheus.CounterVec
	TrainingScoreDelta  prometheus.Histogram
	PersistenceFailures prometheus.Counter
	Bootstraps          *prometheus.CounterVec
	ModelVersion        prometheus.Gauge
	ModelExamples       prometheus.Gauge

	WSConnections prometheus.Gauge
}

// NewMetrics 创建指标集合
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scorer_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scorer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scorer_predictions_total",
			Help: "Scores served, by input source",
		}, []string{"source"}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scorer_prediction_score",
			Help:    "Distribution of served scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		TrainingTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scorer_training_total",
			Help: "Training submissions by outcome",
		}, []string{"outcome"}),
		TrainingScoreDelta: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scorer_training_score_delta",
			Help:    "Absolute score change produced by one training example",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 15},
		}),
		PersistenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "scorer_model_persistence_failures_total",
			Help: "Model artifact writes that failed",
		}),
		Bootstraps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scorer_model_bootstraps_total",
			Help: "Baseline artifacts created, by reason",
		}, []string{"reason"}),
		ModelVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scorer_model_version",
			Help: "Version of the active model artifact",
		}),
		ModelExamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scorer_model_examples",
			Help: "Training examples absorbed by the active model",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scorer_ws_connections",
			Help: "Open model event websocket connections",
		}),
	}
}

// Registry 返回私有 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest 记录一次 HTTP 请求
func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObservePrediction 记录一次评分
func (m *Metrics) ObservePrediction(source string, score float64) {
	m.Predictions.WithLabelValues(source).Inc()
	m.PredictionScores.Observe(score)
}

// ObserveTraining 记录一次训练结果
func (m *Metrics) ObserveTraining(res *ml.TrainResult, err error) {
	switch {
	case ml.IsInputError(err):
		m.TrainingTotal.WithLabelValues("rejected").Inc()
		return
	case ml.IsPersistenceError(err):
		m.TrainingTotal.WithLabelValues("not_persisted").Inc()
		m.PersistenceFailures.Inc()
	case err != nil:
		m.TrainingTotal.WithLabelValues("error").Inc()
		return
	case res.ModelUpdated:
		m.TrainingTotal.WithLabelValues("updated").Inc()
	default:
		m.TrainingTotal.WithLabelValues("unchanged").Inc()
	}
	if res != nil {
		delta := res.NewScore - res.OldScore
		if delta < 0 {
			delta = -delta
		}
		m.TrainingScoreDelta.Observe(delta)
	}
}

// ObserveBootstrap 记录一次基线模型生成
func (m *Metrics) ObserveBootstrap(reason string) {
	m.Bootstraps.WithLabelValues(reason).Inc()
}

// ObserveModel 同步当前模型版本
func (m *Metrics) ObserveModel(a *ml.ModelArtifact) {
	m.ModelVersion.Set(float64(a.Version))
	m.ModelExamples.Set(float64(a.ExampleCount))
}

// ModelListener 返回一个 ml.Listener，模型变化时更新指标
func (m *Metrics) ModelListener() ml.Listener {
	return func(ev ml.ModelEvent) {
		m.ModelVersion.Set(float64(ev.Version))
		m.ModelExamples.Set(float64(ev.ExampleCount))
		if ev.Type == ml.EventModelReset {
			m.Bootstraps.WithLabelValues("reset").Inc()
		}
	}
}
