package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"open-data-insight/internal/model"
)

const (
	acceptHeader = "application/json, application/xml;q=0.9, */*;q=0.8"
	maxBodyBytes = 64 << 20
	redacted     = "REDACTED"
)

var errBodyTooLarge = errors.New("response body too large")

// FetcherOptions bounds how much of a feed is requested.
type FetcherOptions struct {
	MaxPages       int
	MaxRecords     int
	RequestTimeout time.Duration
	RateLimitRPS   float64
	UserAgent      string
	Retry          model.RetryConfig
}

func (o FetcherOptions) withDefaults() FetcherOptions {
	if o.MaxPages <= 0 {
		o.MaxPages = 50
	}
	if o.MaxRecords <= 0 {
		o.MaxRecords = 100000
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "open-data-insight/1.0"
	}
	if o.Retry.InitialDelay <= 0 {
		def := model.DefaultRetryConfig()
		def.MaxRetries = o.Retry.MaxRetries
		o.Retry = def
	}
	return o
}

// Cursor identifies one page request.
type Cursor struct {
	URL    string // scheme, host and path; the query lives in Query
	Query  url.Values
	Number int // 1-based page number

	keyName string
	keyVal  string
}

// String returns the full request URL including credentials.
func (c Cursor) String() string {
	if len(c.Query) == 0 {
		return c.URL
	}
	return c.URL + "?" + c.Query.Encode()
}

// Redacted returns the request URL with the API key masked.
func (c Cursor) Redacted() string {
	if c.keyName == "" || c.Query.Get(c.keyName) == "" {
		return c.String()
	}
	q := cloneValues(c.Query)
	q.Set(c.keyName, redacted)
	return c.URL + "?" + q.Encode()
}

// redact masks the API key anywhere in s, e.g. inside a transport error.
func (c Cursor) redact(s string) string {
	if c.keyVal == "" {
		return s
	}
	s = strings.ReplaceAll(s, c.keyVal, redacted)
	return strings.ReplaceAll(s, url.QueryEscape(c.keyVal), redacted)
}

func (c Cursor) successor() Cursor {
	next := c
	next.Query = cloneValues(c.Query)
	next.Number = c.Number + 1
	return next
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// FirstCursor builds the initial request from a connection's template.
func FirstCursor(conn *model.DatasetConnection) (Cursor, error) {
	u, err := url.Parse(joinURL(conn.BaseURL, conn.Path))
	if err != nil {
		return Cursor{}, fmt.Errorf("build request url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Cursor{}, fmt.Errorf("build request url: unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	for _, p := range conn.QueryParameters {
		q.Set(p.Name, p.Value)
	}
	if conn.APIKeyName != "" && conn.APIKeyValue != "" {
		q.Set(conn.APIKeyName, conn.APIKeyValue)
	}
	if p := conn.Pagination; p != nil && p.Mode != model.PaginationNone && p.Mode != "" {
		start := p.Start
		if p.Mode == model.PaginationPage && start == 0 {
			start = 1
		}
		q.Set(p.PageParam, strconv.Itoa(start))
		if p.SizeParam != "" {
			q.Set(p.SizeParam, strconv.Itoa(p.PageSize))
		}
	}
	u.RawQuery = ""
	u.Fragment = ""
	return Cursor{
		URL:     u.String(),
		Query:   q,
		Number:  1,
		keyName: conn.APIKeyName,
		keyVal:  conn.APIKeyValue,
	}, nil
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Page is one raw response body.
type Page struct {
	Number      int
	URL         string // redacted
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
	Attempts    int
	Delays      []time.Duration

	requestURL string
}

// Fetcher issues rate limited, retried GET requests against a feed.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    FetcherOptions
	logger  *zap.Logger
	sleep   sleepFunc
}

func NewFetcher(client *http.Client, opts FetcherOptions, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}
	return &Fetcher{
		client:  client,
		limiter: limiter,
		opts:    opts.withDefaults(),
		logger:  logger,
		sleep:   sleepContext,
	}
}

func (f *Fetcher) Options() FetcherOptions { return f.opts }

// Fetch retrieves the page at cur. HTTP 429, 5xx and transport errors are
// retried with exponential backoff; other non-2xx statuses fail at once.
func (f *Fetcher) Fetch(ctx context.Context, cur Cursor) (*Page, error) {
	var delays []time.Duration
	for attempt := 0; ; attempt++ {
		page, fe := f.fetchOnce(ctx, cur)
		if fe == nil {
			page.Attempts = attempt + 1
			page.Delays = delays
			return page, nil
		}
		fe.Attempts = attempt + 1
		if !fe.Retryable || attempt >= f.opts.Retry.MaxRetries {
			return nil, fe
		}

		delay := f.opts.Retry.Delay(attempt)
		f.logger.Warn("retrying page request",
			zap.String("url", cur.Redacted()),
			zap.Int("page", cur.Number),
			zap.Int("attempt", attempt+1),
			zap.Int("status", fe.StatusCode),
			zap.Duration("delay", delay),
		)
		delays = append(delays, delay)
		if err := f.sleep(ctx, delay); err != nil {
			fe.Err = err
			fe.Retryable = false
			return nil, fe
		}
	}
}

// fetchOnce performs a single attempt. A nil *FetchError means a 2xx page.
func (f *Fetcher) fetchOnce(ctx context.Context, cur Cursor) (*Page, *FetchError) {
	target := cur.String()
	fail := func(status int, body []byte, err error, retryable bool) *FetchError {
		fe := &FetchError{URL: cur.Redacted(), StatusCode: status, Retryable: retryable}
		if err != nil {
			fe.Err = errors.New(cur.redact(err.Error()))
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				fe.Err = fmt.Errorf("%s: %w", cur.redact(err.Error()), unwrapContextErr(err))
			}
		}
		if len(body) > 0 {
			fe.Snippet = cur.redact(snippet(body))
		}
		return fe
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fail(0, nil, err, false)
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fail(0, nil, err, false)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fail(0, nil, err, isRetryableError(ctx, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fail(resp.StatusCode, nil, fmt.Errorf("read body: %w", err), isRetryableError(ctx, err))
	}
	if len(body) > maxBodyBytes {
		return nil, fail(resp.StatusCode, nil, errBodyTooLarge, false)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fail(resp.StatusCode, body, nil, retryableStatus(resp.StatusCode))
	}

	return &Page{
		Number:      cur.Number,
		URL:         cur.Redacted(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        body,
		requestURL:  target,
	}, nil
}

func unwrapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return context.Canceled
}

// Next returns the cursor for the page after cur, or false when the feed
// signals that no more data exists. An explicit next link in the body wins
// over a Link header, which wins over declared page/offset pagination.
func (f *Fetcher) Next(conn *model.DatasetConnection, cur Cursor, page *Page, parsed *ParsedPage) (Cursor, bool) {
	switch next := parsed.Next.(type) {
	case string:
		if strings.TrimSpace(next) != "" {
			return follow(cur, page, next)
		}
	case *orderedObject:
		if next.Len() > 0 {
			nc := cur.successor()
			for _, k := range next.keys {
				nc.Query.Set(k, scalarText(next.values[k]))
			}
			return nc, true
		}
	}
	if parsed.NextPresent {
		return Cursor{}, false
	}
	if link := nextLink(page.Header); link != "" {
		return follow(cur, page, link)
	}

	p := conn.Pagination
	if p == nil || (p.Mode != model.PaginationPage && p.Mode != model.PaginationOffset) {
		return Cursor{}, false
	}
	if len(parsed.Records) == 0 || len(parsed.Records) < p.PageSize {
		return Cursor{}, false
	}
	nc := cur.successor()
	current, _ := strconv.Atoi(cur.Query.Get(p.PageParam))
	if p.Mode == model.PaginationPage {
		nc.Query.Set(p.PageParam, strconv.Itoa(current+1))
	} else {
		nc.Query.Set(p.PageParam, strconv.Itoa(current+len(parsed.Records)))
	}
	return nc, true
}

func follow(cur Cursor, page *Page, ref string) (Cursor, bool) {
	baseURL := page.requestURL
	if baseURL == "" {
		baseURL = cur.String()
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return Cursor{}, false
	}
	rel, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return Cursor{}, false
	}
	resolved := base.ResolveReference(rel)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return Cursor{}, false
	}
	q := resolved.Query()
	if cur.keyName != "" && cur.keyVal != "" && q.Get(cur.keyName) == "" {
		q.Set(cur.keyName, cur.keyVal)
	}
	resolved.RawQuery = ""
	resolved.Fragment = ""

	nc := cur.successor()
	nc.URL = resolved.String()
	nc.Query = q
	return nc, true
}

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
func nextLink(h http.Header) string {
	for _, header := range h.Values("Link") {
		for _, part := range strings.Split(header, ",") {
			segments := strings.Split(part, ";")
			target := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range segments[1:] {
				name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
				if !ok || !strings.EqualFold(strings.TrimSpace(name), "rel") {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(value), `"`)) {
					if strings.EqualFold(rel, "next") {
						return strings.Trim(target, "<>")
					}
				}
			}
		}
	}
	return ""
}
