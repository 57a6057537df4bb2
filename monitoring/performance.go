package monitoring

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/mansingh-04/prooback/ml"
)

// DefaultPerformanceWindow 默认保留的最近训练样本数
const DefaultPerformanceWindow = 500

// PerformanceTracker 跟踪模型预测分数与用户评分之间的误差
type PerformanceTracker struct {
	mu      sync.RWMutex
	records []ExampleRecord
	window  int
	next    int
	full    bool
	total   int64
	updates int64
}

// ExampleRecord 一次训练样本的评分记录
type ExampleRecord struct {
	UserScore    float64   `json:"user_score"`
	OldScore     float64   `json:"old_score"`
	NewScore     float64   `json:"new_score"`
	ModelUpdated bool      `json:"model_updated"`
	ModelVersion int64     `json:"model_version"`
	Timestamp    time.Time `json:"timestamp"`
}

// PerformanceMetrics 窗口内的误差统计
type PerformanceMetrics struct {
	Examples      int        `json:"examples"`
	TotalExamples int64      `json:"total_examples"`
	Updates       int64      `json:"updates"`
	MAE           float64    `json:"mae"`
	RMSE          float64    `json:"rmse"`
	MeanBias      float64    `json:"mean_bias"`
	MeanStep      float64    `json:"mean_step"`
	ErrorReduced  float64    `json:"error_reduced"`
	LastExampleAt *time.Time `json:"last_example_at,omitempty"`
}

func NewPerformanceTracker(window int) *PerformanceTracker {
	if window <= 0 {
		window = DefaultPerformanceWindow
	}
	return &PerformanceTracker{
		records: make([]ExampleRecord, window),
		window:  window,
	}
}

// RecordTraining 记录一次训练结果，res 为 nil 时忽略
func (pt *PerformanceTracker) RecordTraining(userScore float64, res *ml.TrainResult) {
	if res == nil {
		return
	}
	pt.Record(ExampleRecord{
		UserScore:    userScore,
		OldScore:     res.OldScore,
		NewScore:     res.NewScore,
		ModelUpdated: res.ModelUpdated,
		ModelVersion: res.ModelVersion,
		Timestamp:    time.Now().UTC(),
	})
}

func (pt *PerformanceTracker) Record(r ExampleRecord) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.records[pt.next] = r
	pt.next = (pt.next + 1) % pt.window
	if pt.next == 0 {
		pt.full = true
	}
	pt.total++
	if r.ModelUpdated {
		pt.updates++
	}
}

// snapshot 按时间顺序返回窗口内记录，调用方需持有读锁
func (pt *PerformanceTracker) snapshot() []ExampleRecord {
	if !pt.full {
		return append([]ExampleRecord(nil), pt.records[:pt.next]...)
	}
	out := make([]ExampleRecord, 0, pt.window)
	out = append(out, pt.records[pt.next:]...)
	return append(out, pt.records[:pt.next]...)
}

// CalculateMetrics 计算窗口内的误差指标。误差以训练前的预测为准
func (pt *PerformanceTracker) CalculateMetrics() *PerformanceMetrics {
	pt.mu.RLock()
	records := pt.snapshot()
	metrics := &PerformanceMetrics{
		Examples:      len(records),
		TotalExamples: pt.total,
		Updates:       pt.updates,
	}
	pt.mu.RUnlock()

	if len(records) == 0 {
		return metrics
	}

	signed := make([]float64, len(records))
	abs := make([]float64, len(records))
	squared := make([]float64, len(records))
	steps := make([]float64, len(records))
	reduced := make([]float64, len(records))
	for i, r := range records {
		e := r.OldScore - r.UserScore
		signed[i] = e
		abs[i] = math.Abs(e)
		squared[i] = e * e
		steps[i] = math.Abs(r.NewScore - r.OldScore)
		reduced[i] = math.Abs(e) - math.Abs(r.NewScore-r.UserScore)
	}

	metrics.MAE = stat.Mean(abs, nil)
	metrics.RMSE = math.Sqrt(stat.Mean(squared, nil))
	metrics.MeanBias = stat.Mean(signed, nil)
	metrics.MeanStep = stat.Mean(steps, nil)
	metrics.ErrorReduced = stat.Mean(reduced, nil)
	last := records[len(records)-1].Timestamp
	metrics.LastExampleAt = &last
	return metrics
}

// GetRecords 返回最近 limit 条记录，最新的在前
func (pt *PerformanceTracker) GetRecords(limit int) []ExampleRecord {
	pt.mu.RLock()
	records := pt.snapshot()
	pt.mu.RUnlock()

	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]ExampleRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out
}

// Clear 模型重置后清空统计
func (pt *PerformanceTracker) Clear() {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.records = make([]ExampleRecord, pt.window)
	pt.next = 0
	pt.full = false
	pt.total = 0
	pt.updates = 0
}

// ResetListener 在模型重置事件时清空统计
func (pt *PerformanceTracker) ResetListener() ml.Listener {
	return func(ev ml.ModelEvent) {
		if ev.Type == ml.EventModelReset {
			pt.Clear()
		}
	}
}
