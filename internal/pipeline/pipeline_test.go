package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-data-insight/internal/model"
)

const (
	firstPage  = `{"results":[{"id":1,"amount":"10.5","city":"Oslo","at":"2024-01-01"},{"id":2,"amount":"12","city":"Bergen","at":"2024-01-02"}],"next":"/data?page=2"}`
	secondPage = `{"results":[{"id":3,"amount":"7","city":"Oslo","at":"2024-01-03"},{"id":4,"amount":"n/a","city":"Oslo","at":"2024-01-04"}],"next":null}`
)

func pagedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, secondPage)
			return
		}
		fmt.Fprint(w, firstPage)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunFollowsPaginationAndSummarizes(t *testing.T) {
	srv := pagedServer(t)
	p := New(nil, Options{}, nil)

	var (
		mu     sync.Mutex
		stages []string
	)
	res, err := p.Run(context.Background(), "job-1", testConnection(srv.URL), func(stage string) {
		mu.Lock()
		stages = append(stages, stage)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, []string{model.StageFetch, model.StageNormalize, model.StageAnalyze, model.StageVisualize}, stages)
	summary := res.Summary
	assert.Equal(t, 4, summary.RecordCount)
	assert.Equal(t, []string{"id", "amount", "city", "at"}, summary.SchemaFields)

	amount, ok := summary.Detail("amount")
	require.True(t, ok)
	assert.Equal(t, model.ColumnCategorical, amount.Dtype)

	id, _ := summary.Detail("id")
	assert.Equal(t, model.ColumnNumeric, id.Dtype)
	assert.InDelta(t, 2.5, *summary.NumericSummary["id"].Mean, 1e-9)

	at, _ := summary.Detail("at")
	assert.Equal(t, model.ColumnTemporal, at.Dtype)
	assert.Equal(t, model.CategoryCount{Value: "Oslo", Count: 3}, summary.CategoricalSummary["city"][0])
	assert.NotEmpty(t, summary.Visualizations)

	assert.Equal(t, 2, res.Metrics.PagesFetched)
	assert.Equal(t, "completed", res.Metrics.Status)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), `column "amount"`)
}

func TestRunWarnsAboutDiscardedValues(t *testing.T) {
	var items []string
	for i := 1; i <= 9; i++ {
		items = append(items, fmt.Sprintf(`{"v":%d}`, i))
	}
	items = append(items, `{"v":"oops"}`, `5`, `"junk"`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "["+strings.Join(items, ",")+"]")
	}))
	defer srv.Close()

	res, err := New(nil, Options{}, nil).Run(context.Background(), "job-5", testConnection(srv.URL), nil)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Summary.RecordCount)
	v, ok := res.Summary.Detail("v")
	require.True(t, ok)
	assert.Equal(t, model.ColumnNumeric, v.Dtype)
	assert.Contains(t, res.Warnings, `column "v": 1 non-conforming value(s) set to null`)
	assert.Contains(t, res.Warnings, "page 1: 2 non-object item(s) skipped")
}

func TestRunFailsOnUnparseablePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "this is not a data feed")
	}))
	defer srv.Close()

	_, err := New(nil, Options{}, nil).Run(context.Background(), "job-2", testConnection(srv.URL), nil)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

func TestRunFailsOnFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(nil, Options{}, nil).Run(context.Background(), "job-3", testConnection(srv.URL), nil)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusUnauthorized, fe.StatusCode)
}

func TestRunLimits(t *testing.T) {
	t.Run("record limit", func(t *testing.T) {
		srv := pagedServer(t)
		res, err := New(nil, Options{Fetcher: FetcherOptions{MaxRecords: 3}}, nil).
			Run(context.Background(), "job", testConnection(srv.URL), nil)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Summary.RecordCount)
		assert.Contains(t, strings.Join(res.Warnings, "\n"), "record limit of 3 reached")
	})

	t.Run("page limit", func(t *testing.T) {
		srv := pagedServer(t)
		res, err := New(nil, Options{Fetcher: FetcherOptions{MaxPages: 1}}, nil).
			Run(context.Background(), "job", testConnection(srv.URL), nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Summary.RecordCount)
		assert.Contains(t, strings.Join(res.Warnings, "\n"), "page limit of 1 reached")
	})

	t.Run("pagination loop", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			fmt.Fprint(w, `{"data":[{"a":1}],"next":"/data"}`)
		}))
		defer srv.Close()

		res, err := New(nil, Options{}, nil).Run(context.Background(), "job", testConnection(srv.URL), nil)
		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Contains(t, strings.Join(res.Warnings, "\n"), "pagination loop detected")
	})
}

func TestRunHonoursCancellation(t *testing.T) {
	srv := pagedServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil, Options{}, nil).Run(ctx, "job", testConnection(srv.URL), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
