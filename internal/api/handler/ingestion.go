package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"open-data-insight/internal/model"
)

const (
	defaultJobListLimit = 20
	maxJobListLimit     = 200
)

// IngestRequest controls a triggered ingestion.
type IngestRequest struct {
	// ForceRefresh skips reuse of a recently completed job.
	ForceRefresh bool `json:"force_refresh"`
}

// JobList wraps a list of jobs.
type JobList struct {
	Items []*model.IngestionJob `json:"items"`
	Count int                   `json:"count"`
}

// TriggerIngestion queues an ingestion job, or returns the job already in
// flight for the connection.
// @Summary Trigger an ingestion
// @Tags ingestion
// @Accept json
// @Produce json
// @Param id path string true "Connection ID"
// @Param request body IngestRequest false "Ingestion options"
// @Success 202 {object} model.IngestionJob
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /connections/{id}/ingest [post]
func (h *Handler) TriggerIngestion(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}
	job, err := h.jobs.Submit(r.Context(), r.PathValue("id"), req.ForceRefresh)
	if err != nil {
		h.writeServiceError(w, r, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// GetIngestionJob reports a job's status.
// @Summary Get an ingestion job
// @Tags ingestion
// @Produce json
// @Param id path string true "Connection ID"
// @Param job_id path string true "Job ID"
// @Success 200 {object} model.IngestionJob
// @Failure 404 {object} ErrorResponse
// @Router /connections/{id}/ingest/{job_id} [get]
func (h *Handler) GetIngestionJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Job(r.Context(), r.PathValue("id"), r.PathValue("job_id"))
	if err != nil {
		h.writeServiceError(w, r, err, "ingestion job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListIngestionJobs lists a connection's jobs, newest first.
// @Summary List ingestion jobs
// @Tags ingestion
// @Produce json
// @Param id path string true "Connection ID"
// @Param limit query int false "Maximum number of jobs" default(20)
// @Success 200 {object} JobList
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /connections/{id}/ingest [get]
func (h *Handler) ListIngestionJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobListLimit)
	}

	jobs, err := h.jobs.Jobs(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.writeServiceError(w, r, err, "connection not found")
		return
	}
	if jobs == nil {
		jobs = []*model.IngestionJob{}
	}
	writeJSON(w, http.StatusOK, JobList{Items: jobs, Count: len(jobs)})
}
