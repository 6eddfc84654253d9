package model

import "time"

// Pipeline stage names reported on running jobs.
const (
	StageFetch     = "fetch"
	StageNormalize = "normalize"
	StageAnalyze   = "analyze"
	StageVisualize = "visualize"
)

// StageMetrics represents metrics for a single pipeline stage.
type StageMetrics struct {
	Stage            string        `json:"stage"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	Duration         time.Duration `json:"duration"`
	RecordsProcessed int64         `json:"records_processed"`
	Status           string        `json:"status"` // "running", "completed", "failed"
}

// PipelineMetrics represents metrics for one pipeline run.
type PipelineMetrics struct {
	JobID         string                  `json:"job_id"`
	StartTime     time.Time               `json:"start_time"`
	EndTime       time.Time               `json:"end_time"`
	Status        string                  `json:"status"`
	PagesFetched  int                     `json:"pages_fetched"`
	Retries       int                     `json:"retries"`
	TotalRecords  int64                   `json:"total_records"`
	WarningCount  int                     `json:"warning_count"`
	ThroughputRPS float64                 `json:"throughput_rps"`
	Stages        map[string]StageMetrics `json:"stages"`
}
