package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"open-data-insight/internal/model"
	"open-data-insight/pkg/utils"
)

const (
	defaultPreviewLimit = 4000
	previewRecords      = 5
	maxSchemaFields     = 50
	testTimeout         = 15 * time.Second
)

// ConnectionTester probes a connection with a single unretried request.
type ConnectionTester struct {
	fetcher      *Fetcher
	normalizer   *Normalizer
	previewLimit int
}

// Tester returns a ConnectionTester sharing this pipeline's primitives.
func (p *Pipeline) Tester(previewLimit int) *ConnectionTester {
	if previewLimit <= 0 {
		previewLimit = defaultPreviewLimit
	}
	return &ConnectionTester{fetcher: p.fetcher, normalizer: p.normalizer, previewLimit: previewLimit}
}

// Test never returns an error; failures are described in the result.
func (t *ConnectionTester) Test(ctx context.Context, conn *model.DatasetConnection) (res model.ConnectionTestResult) {
	start := time.Now()
	res = model.ConnectionTestResult{DetectedFormat: "unknown", SchemaFields: []string{}}
	defer func() { res.ElapsedMS = time.Since(start).Milliseconds() }()

	cur, err := FirstCursor(conn)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.RequestURL = cur.Redacted()

	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()
	page, fe := t.fetcher.fetchOnce(ctx, cur)
	if fe != nil {
		res.StatusCode = fe.StatusCode
		if fe.StatusCode != 0 {
			res.Reason = http.StatusText(fe.StatusCode)
		}
		res.Error = fe.Error()
		return res
	}

	res.StatusCode = page.StatusCode
	res.Reason = http.StatusText(page.StatusCode)
	res.ContentType = page.ContentType
	res.Preview, res.PreviewTruncated = utils.Truncate(string(page.Body), t.previewLimit)

	parsed, err := t.normalizer.ParsePage(page, conn.DataFormat)
	if err != nil {
		var formatErr *FormatError
		if errors.As(err, &formatErr) {
			res.Error = formatErr.Error()
		} else {
			res.Error = err.Error()
		}
		return res
	}

	res.Success = true
	res.DetectedFormat = string(parsed.Format)
	res.RecordCount = len(parsed.Records)
	fields := append([]string(nil), parsed.Columns...)
	sort.Strings(fields)
	if len(fields) > maxSchemaFields {
		fields = fields[:maxSchemaFields]
	}
	res.SchemaFields = fields

	if parsed.Format == model.FormatJSON && len(parsed.Records) > 0 {
		head := parsed.Records[:min(previewRecords, len(parsed.Records))]
		if data, err := json.MarshalIndent(head, "", "  "); err == nil {
			preview, cut := utils.Truncate(string(data), t.previewLimit)
			res.Preview = preview
			res.PreviewTruncated = cut || len(parsed.Records) > previewRecords
		}
	}
	return res
}
