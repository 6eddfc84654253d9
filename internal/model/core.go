package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DataFormat is the declared payload format of a feed.
type DataFormat string

const (
	FormatAuto DataFormat = "auto"
	FormatJSON DataFormat = "json"
	FormatXML  DataFormat = "xml"
)

// PaginationMode selects how successive pages are requested when the feed
// does not return an explicit next link.
type PaginationMode string

const (
	PaginationNone   PaginationMode = "none"
	PaginationPage   PaginationMode = "page"
	PaginationOffset PaginationMode = "offset"
)

type QueryParameter struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Pagination describes declared page/offset pagination for a feed.
type Pagination struct {
	Mode      PaginationMode `json:"mode" yaml:"mode"`
	PageParam string         `json:"page_param,omitempty" yaml:"page_param"` // "page" or "offset" parameter name
	SizeParam string         `json:"size_param,omitempty" yaml:"size_param"` // e.g. "limit", "per_page"
	PageSize  int            `json:"page_size,omitempty" yaml:"page_size"`
	Start     int            `json:"start,omitempty" yaml:"start"`
}

// DatasetConnection is a saved request template for one remote feed.
type DatasetConnection struct {
	ID                   string                `json:"id" yaml:"id"`
	PortalName           string                `json:"portal_name" yaml:"portal_name"`
	DatasetID            string                `json:"dataset_id" yaml:"dataset_id"`
	BaseURL              string                `json:"base_url" yaml:"base_url"`
	Path                 string                `json:"path" yaml:"path"`
	APIKeyName           string                `json:"api_key_name,omitempty" yaml:"api_key_name"`
	APIKeyValue          string                `json:"-" yaml:"api_key_value"`
	QueryParameters      []QueryParameter      `json:"query_parameters" yaml:"query_parameters"`
	DataFormat           DataFormat            `json:"data_format" yaml:"data_format"`
	Pagination           *Pagination           `json:"pagination,omitempty" yaml:"pagination"`
	CreatedAt            time.Time             `json:"created_at" yaml:"-"`
	UpdatedAt            time.Time             `json:"updated_at" yaml:"-"`
	LastTestResult       *ConnectionTestResult `json:"last_test_result,omitempty" yaml:"-"`
	LastIngestedAt       *time.Time            `json:"last_ingested_at,omitempty" yaml:"-"`
	LastIngestionSummary *IngestionSummary     `json:"last_ingestion_summary,omitempty" yaml:"-"`
}

var ErrInvalidConnection = errors.New("invalid connection")

// Validate checks the request template and fills defaults.
func (c *DatasetConnection) Validate() error {
	if strings.TrimSpace(c.PortalName) == "" {
		return fmt.Errorf("%w: portal_name is required", ErrInvalidConnection)
	}
	if strings.TrimSpace(c.DatasetID) == "" {
		return fmt.Errorf("%w: dataset_id is required", ErrInvalidConnection)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base_url must be an absolute http(s) URL", ErrInvalidConnection)
	}
	switch c.DataFormat {
	case "":
		c.DataFormat = FormatAuto
	case FormatAuto, FormatJSON, FormatXML:
	default:
		return fmt.Errorf("%w: data_format must be auto, json or xml", ErrInvalidConnection)
	}
	if (c.APIKeyName == "") != (c.APIKeyValue == "") {
		return fmt.Errorf("%w: api_key_name and api_key_value must be set together", ErrInvalidConnection)
	}
	for _, p := range c.QueryParameters {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: query parameter name is required", ErrInvalidConnection)
		}
	}
	if p := c.Pagination; p != nil {
		switch p.Mode {
		case "", PaginationNone:
			p.Mode = PaginationNone
		case PaginationPage, PaginationOffset:
			if p.PageParam == "" || p.PageSize <= 0 {
				return fmt.Errorf("%w: pagination needs page_param and a positive page_size", ErrInvalidConnection)
			}
		default:
			return fmt.Errorf("%w: unknown pagination mode %q", ErrInvalidConnection, p.Mode)
		}
	}
	return nil
}

// Clone returns a deep copy. The ingestion summary is immutable and shared.
func (c *DatasetConnection) Clone() *DatasetConnection {
	if c == nil {
		return nil
	}
	out := *c
	if c.QueryParameters != nil {
		out.QueryParameters = append([]QueryParameter{}, c.QueryParameters...)
	}
	if c.Pagination != nil {
		p := *c.Pagination
		out.Pagination = &p
	}
	if c.LastTestResult != nil {
		r := *c.LastTestResult
		r.SchemaFields = append([]string(nil), c.LastTestResult.SchemaFields...)
		out.LastTestResult = &r
	}
	if c.LastIngestedAt != nil {
		t := *c.LastIngestedAt
		out.LastIngestedAt = &t
	}
	return &out
}

// ConnectionTestResult is the outcome of a single probe request.
type ConnectionTestResult struct {
	Success          bool     `json:"success"`
	StatusCode       int      `json:"status_code,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	ContentType      string   `json:"content_type,omitempty"`
	DetectedFormat   string   `json:"detected_format"`
	RecordCount      int      `json:"record_count"`
	SchemaFields     []string `json:"schema_fields"`
	Preview          string   `json:"preview,omitempty"`
	PreviewTruncated bool     `json:"preview_truncated"`
	ElapsedMS        int64    `json:"elapsed_ms"`
	RequestURL       string   `json:"request_url"`
	Error            string   `json:"error,omitempty"`
}
