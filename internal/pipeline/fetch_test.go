package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-data-insight/internal/model"
)

// newTestFetcher returns a fetcher whose backoff sleeps are recorded
// instead of slept.
func newTestFetcher(opts FetcherOptions) (*Fetcher, *[]time.Duration) {
	f := NewFetcher(nil, opts, nil)
	var slept []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return f, &slept
}

func testConnection(baseURL string) *model.DatasetConnection {
	return &model.DatasetConnection{
		ID:         "conn-1",
		PortalName: "test",
		DatasetID:  "ds",
		BaseURL:    baseURL,
		Path:       "/data",
		DataFormat: model.FormatAuto,
	}
}

func TestFetchRetriesRateLimitWithNonDecreasingBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"v":1}]`)
	}))
	defer srv.Close()

	f, slept := newTestFetcher(FetcherOptions{Retry: model.RetryConfig{MaxRetries: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}})
	cur, err := FirstCursor(testConnection(srv.URL))
	require.NoError(t, err)

	page, err := f.Fetch(context.Background(), cur)
	require.NoError(t, err)
	assert.Equal(t, 4, page.Attempts)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	require.Len(t, *slept, 3)
	for i := 1; i < len(*slept); i++ {
		assert.GreaterOrEqual(t, (*slept)[i], (*slept)[i-1])
	}
	assert.Equal(t, *slept, page.Delays)
}

func TestFetchServerErrorExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	f, slept := newTestFetcher(FetcherOptions{Retry: model.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond}})
	cur, _ := FirstCursor(testConnection(srv.URL))

	_, err := f.Fetch(context.Background(), cur)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.Equal(t, 3, fe.Attempts)
	assert.True(t, fe.Retryable)
	assert.Contains(t, fe.Snippet, "upstream down")
	assert.Len(t, *slept, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchClientErrorFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, slept := newTestFetcher(FetcherOptions{})
	cur, _ := FirstCursor(testConnection(srv.URL))

	_, err := f.Fetch(context.Background(), cur)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.False(t, fe.Retryable)
	assert.Empty(t, *slept)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchStopsRetryingWhenContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher(nil, FetcherOptions{Retry: model.RetryConfig{MaxRetries: 5, InitialDelay: time.Hour}}, nil)
	cur, _ := FirstCursor(testConnection(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, cur)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFetchSendsTemplateAndRedactsKey(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	conn := testConnection(srv.URL + "/api/")
	conn.Path = "v1/rows"
	conn.APIKeyName = "token"
	conn.APIKeyValue = "s3cret"
	conn.QueryParameters = []model.QueryParameter{{Name: "city", Value: "Oslo"}}

	f, _ := newTestFetcher(FetcherOptions{UserAgent: "tester/1"})
	cur, err := FirstCursor(conn)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), cur)
	require.Error(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "/api/v1/rows", got.URL.Path)
	assert.Equal(t, "Oslo", got.URL.Query().Get("city"))
	assert.Equal(t, "s3cret", got.URL.Query().Get("token"))
	assert.Equal(t, "tester/1", got.Header.Get("User-Agent"))
	assert.Contains(t, got.Header.Get("Accept"), "application/json")

	assert.NotContains(t, err.Error(), "s3cret")
	assert.Contains(t, cur.Redacted(), "token=REDACTED")
}

func TestNextCursor(t *testing.T) {
	f, _ := newTestFetcher(FetcherOptions{})
	conn := testConnection("https://feed.example.org")
	conn.APIKeyName = "key"
	conn.APIKeyValue = "abc"
	cur, err := FirstCursor(conn)
	require.NoError(t, err)
	page := &Page{Header: http.Header{}, requestURL: cur.String()}

	t.Run("relative next link keeps the api key", func(t *testing.T) {
		next, ok := f.Next(conn, cur, page, &ParsedPage{Next: "/data?page=2", NextPresent: true})
		require.True(t, ok)
		assert.Equal(t, "https://feed.example.org/data", next.URL)
		assert.Equal(t, "2", next.Query.Get("page"))
		assert.Equal(t, "abc", next.Query.Get("key"))
		assert.Equal(t, 2, next.Number)
	})

	t.Run("object pointer merges into the query", func(t *testing.T) {
		ptr := &orderedObject{keys: []string{"offset"}, values: map[string]any{"offset": "20"}}
		next, ok := f.Next(conn, cur, page, &ParsedPage{Next: ptr, NextPresent: true})
		require.True(t, ok)
		assert.Equal(t, "20", next.Query.Get("offset"))
		assert.Equal(t, "abc", next.Query.Get("key"))
	})

	t.Run("explicit null ends pagination", func(t *testing.T) {
		p := &Page{Header: http.Header{"Link": {`<https://feed.example.org/data?page=2>; rel="next"`}}}
		_, ok := f.Next(conn, cur, p, &ParsedPage{NextPresent: true})
		assert.False(t, ok)
	})

	t.Run("link header", func(t *testing.T) {
		p := &Page{Header: http.Header{"Link": {`<https://feed.example.org/data?page=1>; rel="prev", <https://feed.example.org/data?page=3>; rel="next"`}}}
		next, ok := f.Next(conn, cur, p, &ParsedPage{})
		require.True(t, ok)
		assert.Equal(t, "3", next.Query.Get("page"))
	})

	t.Run("declared page pagination", func(t *testing.T) {
		paged := testConnection("https://feed.example.org")
		paged.Pagination = &model.Pagination{Mode: model.PaginationPage, PageParam: "page", SizeParam: "size", PageSize: 2}
		first, err := FirstCursor(paged)
		require.NoError(t, err)
		assert.Equal(t, "1", first.Query.Get("page"))
		assert.Equal(t, "2", first.Query.Get("size"))

		full := &ParsedPage{Records: []model.Record{{}, {}}}
		next, ok := f.Next(paged, first, &Page{}, full)
		require.True(t, ok)
		assert.Equal(t, "2", next.Query.Get("page"))

		short := &ParsedPage{Records: []model.Record{{}}}
		_, ok = f.Next(paged, next, &Page{}, short)
		assert.False(t, ok)
	})

	t.Run("declared offset pagination", func(t *testing.T) {
		offset := testConnection("https://feed.example.org")
		offset.Pagination = &model.Pagination{Mode: model.PaginationOffset, PageParam: "offset", SizeParam: "limit", PageSize: 2}
		first, _ := FirstCursor(offset)
		assert.Equal(t, "0", first.Query.Get("offset"))
		next, ok := f.Next(offset, first, &Page{}, &ParsedPage{Records: []model.Record{{}, {}}})
		require.True(t, ok)
		assert.Equal(t, "2", next.Query.Get("offset"))
	})

	t.Run("no signal means a single page", func(t *testing.T) {
		_, ok := f.Next(conn, cur, page, &ParsedPage{Records: []model.Record{{}}})
		assert.False(t, ok)
	})
}

func TestNextLinkParsing(t *testing.T) {
	h := http.Header{}
	h.Add("Link", `<https://x.test/a?p=2>; rel="next last"`)
	assert.Equal(t, "https://x.test/a?p=2", nextLink(h))
	assert.Empty(t, nextLink(http.Header{"Link": {"garbage"}}))
	assert.True(t, strings.HasPrefix(joinURL("https://x.test/api/", "/v1"), "https://x.test/api/v1"))
}
