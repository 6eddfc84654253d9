package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// CanTransition reports whether moving from s to next keeps the state
// machine monotonic. A pending job may fail without running when it cannot
// be scheduled or was interrupted by a restart.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobFailed
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

var ErrInvalidTransition = errors.New("invalid job transition")

// IngestionJob is one execution of the ingestion pipeline for a connection.
type IngestionJob struct {
	JobID        string            `json:"job_id"`
	ConnectionID string            `json:"connection_id"`
	Status       JobStatus         `json:"status"`
	Stage        string            `json:"stage,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at"`
	FinishedAt   *time.Time        `json:"finished_at"`
	Message      string            `json:"message,omitempty"`
	Errors       []string          `json:"errors"`
	Summary      *IngestionSummary `json:"summary"`
}

func NewIngestionJob(connectionID string, now time.Time) *IngestionJob {
	return &IngestionJob{
		JobID:        uuid.New().String(),
		ConnectionID: connectionID,
		Status:       JobPending,
		CreatedAt:    now.UTC(),
		Errors:       []string{},
	}
}

func (j *IngestionJob) transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	return nil
}

// Start moves a pending job to running.
func (j *IngestionJob) Start(now time.Time) error {
	if err := j.transition(JobRunning); err != nil {
		return err
	}
	t := now.UTC()
	j.StartedAt = &t
	return nil
}

// Complete records the summary and any non-fatal warnings.
func (j *IngestionJob) Complete(summary *IngestionSummary, warnings []string, now time.Time) error {
	if summary == nil {
		return errors.New("complete: summary is required")
	}
	if err := j.transition(JobCompleted); err != nil {
		return err
	}
	t := now.UTC()
	j.FinishedAt = &t
	j.Stage = ""
	j.Summary = summary
	j.Errors = append(j.Errors, warnings...)
	if j.Message == "" {
		j.Message = fmt.Sprintf("ingested %d records", summary.RecordCount)
	}
	return nil
}

// Fail records the failure cause. message must be non-empty.
func (j *IngestionJob) Fail(message string, errs []string, now time.Time) error {
	if message == "" {
		message = "ingestion failed"
	}
	if err := j.transition(JobFailed); err != nil {
		return err
	}
	t := now.UTC()
	j.FinishedAt = &t
	j.Stage = ""
	j.Message = message
	j.Errors = append(j.Errors, errs...)
	return nil
}

// Clone returns a snapshot that shares only the immutable summary.
func (j *IngestionJob) Clone() *IngestionJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	c.Errors = append([]string{}, j.Errors...)
	return &c
}
