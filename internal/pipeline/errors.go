package pipeline

import (
	"fmt"
	"net/http"
	"strings"

	"open-data-insight/internal/model"
)

const maxErrorSnippet = 256

// FetchError is returned when a page cannot be retrieved: a transport
// failure, a non-retryable status, or an exhausted retry budget.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Retryable  bool
	Snippet    string
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s", e.URL)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	if e.Snippet != "" {
		fmt.Fprintf(&b, ": %s", e.Snippet)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRateLimited reports whether the last response was HTTP 429.
func (e *FetchError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// FormatError is returned when a payload cannot be parsed as the declared
// format, or as any supported format when the format is auto-detected.
type FormatError struct {
	Format model.DataFormat
	URL    string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Format == model.FormatAuto || e.Format == "" {
		return fmt.Sprintf("payload from %s is neither JSON nor XML: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("payload from %s is not valid %s: %v", e.URL, strings.ToUpper(string(e.Format)), e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// SchemaAmbiguityWarning records a column whose values almost, but not
// quite, fit a specific type. The column is treated as categorical.
type SchemaAmbiguityWarning struct {
	Column    string
	Candidate model.ColumnType
	Fraction  float64
}

func (w *SchemaAmbiguityWarning) Error() string {
	return fmt.Sprintf("column %q: %.0f%% of sampled values parse as %s, treated as categorical",
		w.Column, w.Fraction*100, w.Candidate)
}

// RenderError is returned when a single chart cannot be produced.
type RenderError struct {
	Column    string
	ChartType string
	Err       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s chart for %q: %v", e.ChartType, e.Column, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet] + "..."
	}
	return s
}
