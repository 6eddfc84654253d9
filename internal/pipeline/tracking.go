package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"open-data-insight/internal/model"
)

// StageFunc is notified whenever the pipeline enters a new stage.
type StageFunc func(stage string)

// PipelineTracker records per-stage timings and counters for one run.
type PipelineTracker struct {
	mu      sync.Mutex
	metrics model.PipelineMetrics
	logger  *zap.Logger
	onStage StageFunc
}

// NewPipelineTracker creates a tracker; onStage may be nil.
func NewPipelineTracker(jobID string, logger *zap.Logger, onStage StageFunc) *PipelineTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineTracker{
		logger:  logger,
		onStage: onStage,
		metrics: model.PipelineMetrics{
			JobID:     jobID,
			StartTime: time.Now(),
			Status:    "running",
			Stages:    make(map[string]model.StageMetrics),
		},
	}
}

// StartStage marks the start of a pipeline stage
func (pt *PipelineTracker) StartStage(stage string) {
	pt.mu.Lock()
	pt.metrics.Stages[stage] = model.StageMetrics{Stage: stage, StartTime: time.Now(), Status: "running"}
	pt.mu.Unlock()

	pt.logger.Debug("stage started", zap.String("stage", stage))
	if pt.onStage != nil {
		pt.onStage(stage)
	}
}

// EndStage marks the end of a pipeline stage
func (pt *PipelineTracker) EndStage(stage string, recordsProcessed int64) {
	pt.finishStage(stage, recordsProcessed, "completed")
}

// FailStage marks a stage as failed.
func (pt *PipelineTracker) FailStage(stage string, err error) {
	pt.finishStage(stage, 0, "failed")
	pt.logger.Warn("stage failed", zap.String("stage", stage), zap.Error(err))
}

func (pt *PipelineTracker) finishStage(stage string, records int64, status string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	s := pt.metrics.Stages[stage]
	s.Stage = stage
	s.EndTime = time.Now()
	if !s.StartTime.IsZero() {
		s.Duration = s.EndTime.Sub(s.StartTime)
	}
	s.RecordsProcessed = records
	s.Status = status
	pt.metrics.Stages[stage] = s
	if status == "completed" {
		pt.logger.Debug("stage completed",
			zap.String("stage", stage),
			zap.Int64("records", records),
			zap.Duration("duration", s.Duration),
		)
	}
}

// RecordPage counts a fetched page and the retries it needed.
func (pt *PipelineTracker) RecordPage(records int, attempts int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.metrics.PagesFetched++
	pt.metrics.TotalRecords += int64(records)
	if attempts > 1 {
		pt.metrics.Retries += attempts - 1
	}
}

func (pt *PipelineTracker) RecordWarning() {
	pt.mu.Lock()
	pt.metrics.WarningCount++
	pt.mu.Unlock()
}

func (pt *PipelineTracker) Complete() { pt.finish("completed") }
func (pt *PipelineTracker) Fail()     { pt.finish("failed") }

func (pt *PipelineTracker) finish(status string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.metrics.EndTime = time.Now()
	pt.metrics.Status = status
	if d := pt.metrics.EndTime.Sub(pt.metrics.StartTime).Seconds(); d > 0 {
		pt.metrics.ThroughputRPS = float64(pt.metrics.TotalRecords) / d
	}
}

// Metrics returns a copy of the current metrics.
func (pt *PipelineTracker) Metrics() model.PipelineMetrics {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	m := pt.metrics
	m.Stages = make(map[string]model.StageMetrics, len(pt.metrics.Stages))
	for k, v := range pt.metrics.Stages {
		m.Stages[k] = v
	}
	return m
}
