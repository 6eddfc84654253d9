package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-data-insight/internal/model"
)

func writeJob(w http.ResponseWriter, status model.JobStatus) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(model.IngestionJob{JobID: "j1", ConnectionID: "c1", Status: status})
}

func TestTriggerSendsForceRefresh(t *testing.T) {
	bodies := make(chan map[string]bool, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/connections/c1/ingest", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]bool
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		w.WriteHeader(http.StatusAccepted)
		writeJob(w, model.JobPending)
	}))
	defer srv.Close()

	job, err := New(srv.URL+"/", Options{}).Trigger(context.Background(), "c1", true)
	require.NoError(t, err)
	assert.Equal(t, "j1", job.JobID)
	assert.Equal(t, map[string]bool{"force_refresh": true}, <-bodies)
}

func TestWaitForJobCompletes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connections/c1/ingest/j1", r.URL.Path)
		switch calls.Add(1) {
		case 1:
			writeJob(w, model.JobPending)
		case 2:
			writeJob(w, model.JobRunning)
		default:
			writeJob(w, model.JobCompleted)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, Options{PollInterval: time.Millisecond})
	var seen []model.JobStatus
	job, err := c.WaitForJob(context.Background(), "c1", "j1", func(j *model.IngestionJob) { seen = append(seen, j.Status) })
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, []model.JobStatus{model.JobPending, model.JobRunning, model.JobCompleted}, seen)
}

func TestWaitForJobTimesOut(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJob(w, model.JobRunning)
	}))
	defer srv.Close()

	c := New(srv.URL, Options{PollInterval: time.Millisecond, PollAttempts: 4})
	job, err := c.WaitForJob(context.Background(), "c1", "j1", nil)
	require.ErrorIs(t, err, ErrPollTimeout)
	require.NotNil(t, job)
	assert.Equal(t, model.JobRunning, job.Status)
	assert.EqualValues(t, 4, calls.Load())
}

func TestWaitForJobFailedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJob(w, model.JobFailed)
	}))
	defer srv.Close()

	job, err := New(srv.URL, Options{PollInterval: time.Millisecond}).WaitForJob(context.Background(), "c1", "j1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)
}

func TestAPIErrorCarriesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"connection not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, Options{}).GetJob(context.Background(), "c1", "j1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "connection not found", apiErr.Detail)
	assert.Equal(t, "api: 404: connection not found", err.Error())
}

func TestWaitForJobHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJob(w, model.JobPending)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL, Options{PollInterval: time.Hour}).WaitForJob(ctx, "c1", "j1", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaults(t *testing.T) {
	c := New("http://x", Options{})
	assert.Equal(t, 750*time.Millisecond, c.interval)
	assert.Equal(t, 12, c.attempts)
}
