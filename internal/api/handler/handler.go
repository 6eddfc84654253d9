package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"open-data-insight/internal/model"
	"open-data-insight/internal/store"
)

// Tester probes a connection without saving it.
type Tester interface {
	Test(ctx context.Context, conn *model.DatasetConnection) model.ConnectionTestResult
}

// JobService submits and looks up ingestion jobs.
type JobService interface {
	Submit(ctx context.Context, connectionID string, forceRefresh bool) (*model.IngestionJob, error)
	Job(ctx context.Context, connectionID, jobID string) (*model.IngestionJob, error)
	Jobs(ctx context.Context, connectionID string, limit int) ([]*model.IngestionJob, error)
}

// Handler serves the connection, ingestion and analysis endpoints.
type Handler struct {
	repo   store.Repository
	tester Tester
	jobs   JobService
	logger *zap.Logger
}

func New(repo store.Repository, tester Tester, jobs JobService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, tester: tester, jobs: jobs, logger: logger}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Health reports liveness.
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// writeServiceError maps store and validation errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, model.ErrInvalidConnection):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		h.logger.Debug("request cancelled", zap.String("path", r.URL.Path))
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
