package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-data-insight/internal/api/handler"
	"open-data-insight/internal/jobs"
	"open-data-insight/internal/model"
	"open-data-insight/internal/pipeline"
	"open-data-insight/internal/store"
	"open-data-insight/pkg/router"
)

type stubTester struct {
	mu     sync.Mutex
	result model.ConnectionTestResult
	seen   []*model.DatasetConnection
}

func (s *stubTester) Test(_ context.Context, conn *model.DatasetConnection) model.ConnectionTestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, conn.Clone())
	return s.result
}

func (s *stubTester) setResult(res model.ConnectionTestResult) {
	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
}

func (s *stubTester) calls() []*model.DatasetConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.DatasetConnection(nil), s.seen...)
}

type runnerFunc func(ctx context.Context, jobID string, conn *model.DatasetConnection, onStage pipeline.StageFunc) (*pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, jobID string, conn *model.DatasetConnection, onStage pipeline.StageFunc) (*pipeline.Result, error) {
	return f(ctx, jobID, conn, onStage)
}

type testServer struct {
	srv    *httptest.Server
	repo   store.Repository
	tester *stubTester
}

func newTestServer(t *testing.T, runner jobs.Runner) *testServer {
	t.Helper()
	repo := store.NewMemoryStore()
	tester := &stubTester{result: model.ConnectionTestResult{
		Success:        true,
		StatusCode:     200,
		DetectedFormat: "json",
		RecordCount:    3,
		SchemaFields:   []string{"id", "value"},
	}}
	orch := jobs.New(repo, runner, jobs.Options{Workers: 1, QueueSize: 4, Timeout: time.Second}, nil)
	require.NoError(t, orch.Start(context.Background()))

	r := router.New(nil)
	RegisterRoutes(r, handler.New(repo, tester, orch, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Close(ctx)
	})
	return &testServer{srv: srv, repo: repo, tester: tester}
}

func (ts *testServer) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

const connectionBody = `{
	"portal_name": "City Portal",
	"dataset_id": "air-quality",
	"base_url": "https://data.example.org",
	"path": "/api/rows",
	"api_key_name": "token",
	"api_key_value": "s3cret",
	"query_parameters": [{"name": "limit", "value": "100"}],
	"data_format": "json"
}`

func summaryRunner(records int) runnerFunc {
	return func(ctx context.Context, jobID string, conn *model.DatasetConnection, onStage pipeline.StageFunc) (*pipeline.Result, error) {
		onStage(model.StageFetch)
		return &pipeline.Result{Summary: &model.IngestionSummary{RecordCount: records, SchemaFields: []string{"id"}}}, nil
	}
}

func TestConnectionLifecycle(t *testing.T) {
	ts := newTestServer(t, summaryRunner(3))

	var created model.DatasetConnection
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/connections", connectionBody, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "City Portal", created.PortalName)
	require.NotNil(t, created.LastTestResult)
	assert.Equal(t, []string{"id", "value"}, created.LastTestResult.SchemaFields)

	calls := ts.tester.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "s3cret", calls[0].APIKeyValue)

	stored, err := ts.repo.GetConnection(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", stored.APIKeyValue)

	var raw map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/connections/"+created.ID, "", &raw))
	assert.NotContains(t, raw, "api_key_value")
	assert.Equal(t, "token", raw["api_key_name"])

	var list handler.ConnectionList
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/connections", "", &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, created.ID, list.Items[0].ID)
}

func TestCreateConnectionRejectsFailedTest(t *testing.T) {
	ts := newTestServer(t, summaryRunner(1))
	ts.tester.setResult(model.ConnectionTestResult{StatusCode: 404, Error: "fetch https://data.example.org/api/rows: status 404 Not Found"})

	var resp handler.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/connections", connectionBody, &resp))
	assert.True(t, strings.HasPrefix(resp.Detail, "connection test failed: "), resp.Detail)

	conns, err := ts.repo.ListConnections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestConnectionValidation(t *testing.T) {
	ts := newTestServer(t, summaryRunner(1))

	tests := []struct {
		name, body, detail string
	}{
		{"malformed", `{"portal_name":`, "invalid JSON payload"},
		{"unknown field", `{"portal":"x"}`, "invalid JSON payload"},
		{"missing portal", `{"dataset_id":"d","base_url":"https://x.org"}`, "portal_name is required"},
		{"relative url", `{"portal_name":"p","dataset_id":"d","base_url":"/rows"}`, "base_url must be an absolute http(s) URL"},
		{"bad format", `{"portal_name":"p","dataset_id":"d","base_url":"https://x.org","data_format":"csv"}`, "data_format must be auto, json or xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp handler.ErrorResponse
			assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/connections/test", tt.body, &resp))
			assert.Contains(t, resp.Detail, tt.detail)
		})
	}
	assert.Empty(t, ts.tester.calls())
}

func TestTestConnectionReturnsResult(t *testing.T) {
	ts := newTestServer(t, summaryRunner(1))

	var res model.ConnectionTestResult
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/connections/test", connectionBody, &res))
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.RecordCount)

	conns, err := ts.repo.ListConnections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, conns, "testing must not save the connection")
}

func TestIngestionFlow(t *testing.T) {
	ts := newTestServer(t, summaryRunner(7))

	var created model.DatasetConnection
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/connections", connectionBody, &created))

	var resp handler.ErrorResponse
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/connections/"+created.ID+"/analysis", "", &resp))
	assert.Equal(t, "no completed ingestion for this connection", resp.Detail)

	var job model.IngestionJob
	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/connections/"+created.ID+"/ingest", `{"force_refresh": true}`, &job))
	assert.Equal(t, created.ID, job.ConnectionID)
	assert.NotEmpty(t, job.JobID)

	require.Eventually(t, func() bool {
		got, err := ts.repo.GetJob(context.Background(), job.JobID)
		return err == nil && got.Status == model.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	var done model.IngestionJob
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/connections/"+created.ID+"/ingest/"+job.JobID, "", &done))
	assert.Equal(t, model.JobCompleted, done.Status)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 7, done.Summary.RecordCount)

	require.Eventually(t, func() bool {
		conn, err := ts.repo.GetConnection(context.Background(), created.ID)
		return err == nil && conn.LastIngestionSummary != nil
	}, 2*time.Second, 10*time.Millisecond)

	var summary model.IngestionSummary
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/connections/"+created.ID+"/analysis", "", &summary))
	assert.Equal(t, 7, summary.RecordCount)

	var list handler.JobList
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/connections/"+created.ID+"/ingest?limit=5", "", &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, job.JobID, list.Items[0].JobID)
}

func TestIngestWithoutBody(t *testing.T) {
	ts := newTestServer(t, summaryRunner(1))
	var created model.DatasetConnection
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/connections", connectionBody, &created))

	var job model.IngestionJob
	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/connections/"+created.ID+"/ingest", "", &job))
	assert.NotEmpty(t, job.JobID)
}

func TestNotFoundResponses(t *testing.T) {
	ts := newTestServer(t, summaryRunner(1))
	var created model.DatasetConnection
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/connections", connectionBody, &created))

	other := &model.DatasetConnection{PortalName: "p", DatasetID: "d", BaseURL: "https://other.org"}
	require.NoError(t, ts.repo.CreateConnection(context.Background(), other))
	var job model.IngestionJob
	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/connections/"+other.ID+"/ingest", "", &job))

	tests := []struct {
		name, method, path, detail string
	}{
		{"connection", http.MethodGet, "/connections/missing", "connection not found"},
		{"analysis", http.MethodGet, "/connections/missing/analysis", "connection not found"},
		{"ingest", http.MethodPost, "/connections/missing/ingest", "connection not found"},
		{"job list", http.MethodGet, "/connections/missing/ingest", "connection not found"},
		{"unknown job", http.MethodGet, "/connections/" + created.ID + "/ingest/nope", "ingestion job not found"},
		{"job of another connection", http.MethodGet, "/connections/" + created.ID + "/ingest/" + job.JobID, "ingestion job not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp handler.ErrorResponse
			assert.Equal(t, http.StatusNotFound, ts.do(t, tt.method, tt.path, "", &resp))
			assert.Equal(t, tt.detail, resp.Detail)
		})
	}
}

func TestJobListLimitValidation(t *testing.T) {
	ts := newTestServer(t, summaryRunner(1))
	var resp handler.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/connections/x/ingest?limit=zero", "", &resp))
	assert.Equal(t, "limit must be a positive integer", resp.Detail)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, summaryRunner(1))
	var body map[string]string
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSwaggerDocServed(t *testing.T) {
	ts := newTestServer(t, summaryRunner(1))
	var doc map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/swagger/doc.json", "", &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/connections/{id}/ingest/{job_id}")
}
