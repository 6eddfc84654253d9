// Package client talks to the ingestion API and polls jobs to completion.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"open-data-insight/internal/model"
)

const (
	DefaultPollInterval = 750 * time.Millisecond
	DefaultPollAttempts = 12
)

// ErrPollTimeout is returned by WaitForJob when the job is still active
// after the last attempt. The server-side job is unaffected.
var ErrPollTimeout = errors.New("ingestion job still running after polling limit")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Detail)
}

type Options struct {
	HTTPClient   *http.Client
	PollInterval time.Duration
	PollAttempts int
}

type Client struct {
	base     string
	http     *http.Client
	interval time.Duration
	attempts int
}

func New(baseURL string, opts Options) *Client {
	c := &Client{
		base:     strings.TrimRight(baseURL, "/"),
		http:     opts.HTTPClient,
		interval: opts.PollInterval,
		attempts: opts.PollAttempts,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	if c.attempts <= 0 {
		c.attempts = DefaultPollAttempts
	}
	return c
}

// Trigger starts (or joins) an ingestion for connectionID.
func (c *Client) Trigger(ctx context.Context, connectionID string, forceRefresh bool) (*model.IngestionJob, error) {
	body := map[string]bool{"force_refresh": forceRefresh}
	var job model.IngestionJob
	if err := c.do(ctx, http.MethodPost, "/connections/"+url.PathEscape(connectionID)+"/ingest", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) GetJob(ctx context.Context, connectionID, jobID string) (*model.IngestionJob, error) {
	var job model.IngestionJob
	path := "/connections/" + url.PathEscape(connectionID) + "/ingest/" + url.PathEscape(jobID)
	if err := c.do(ctx, http.MethodGet, path, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) Analysis(ctx context.Context, connectionID string) (*model.IngestionSummary, error) {
	var summary model.IngestionSummary
	if err := c.do(ctx, http.MethodGet, "/connections/"+url.PathEscape(connectionID)+"/analysis", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// WaitForJob polls until the job reaches a terminal status. onPoll, when
// set, observes every snapshot.
func (c *Client) WaitForJob(ctx context.Context, connectionID, jobID string, onPoll func(*model.IngestionJob)) (*model.IngestionJob, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var last *model.IngestionJob
	for attempt := 1; attempt <= c.attempts; attempt++ {
		job, err := c.GetJob(ctx, connectionID, jobID)
		if err != nil {
			return nil, err
		}
		last = job
		if onPoll != nil {
			onPoll(job)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
	return last, fmt.Errorf("job %s after %d attempts: %w", jobID, c.attempts, ErrPollTimeout)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Detail string `json:"detail"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e) == nil {
			apiErr.Detail = e.Detail
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
