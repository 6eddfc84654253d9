package pipeline

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-data-insight/internal/model"
)

func chartDataset(n int) (model.Schema, []model.Record) {
	schema := model.Schema{
		{Name: "amount", Type: model.ColumnNumeric},
		{Name: "fixed", Type: model.ColumnNumeric},
		{Name: "kind", Type: model.ColumnCategorical},
		{Name: "day", Type: model.ColumnTemporal},
	}
	records := make([]model.Record, n)
	for i := range records {
		records[i] = model.Record{
			"amount": model.NumberValue(float64(i * i)),
			"fixed":  model.NumberValue(3),
			"kind":   model.StringValue([]string{"red", "green", "blue"}[i%3]),
			"day":    model.StringValue(fmt.Sprintf("2024-01-%02d", i+1)),
		}
	}
	return schema, records
}

func TestGenerateRendersPNGCharts(t *testing.T) {
	schema, records := chartDataset(12)
	summary := NewAnalyzer(AnalyzerOptions{}).Analyze(schema, records)

	artifacts, failures := NewVisualizer(VisualizerOptions{}).Generate(schema, records, summary)

	types := map[string]string{}
	for _, art := range artifacts {
		types[art.Column] = art.ChartType
		raw, err := base64.StdEncoding.DecodeString(art.ImageBase64)
		require.NoError(t, err)
		require.Greater(t, len(raw), 8)
		assert.Equal(t, "\x89PNG", string(raw[:4]), art.Title)
		assert.NotEmpty(t, art.Title)
	}
	assert.Equal(t, map[string]string{
		"amount": model.ChartHistogram,
		"kind":   model.ChartBar,
		"day":    model.ChartLine,
	}, types)

	require.Len(t, failures, 1)
	assert.Equal(t, "fixed", failures[0].Column)
	assert.ErrorIs(t, failures[0], errConstant)
}

func TestGenerateRespectsChartCap(t *testing.T) {
	schema, records := chartDataset(6)
	summary := NewAnalyzer(AnalyzerOptions{}).Analyze(schema, records)

	artifacts, _ := NewVisualizer(VisualizerOptions{MaxCharts: 1}).Generate(schema, records, summary)
	require.Len(t, artifacts, 1)
	assert.Equal(t, model.ChartHistogram, artifacts[0].ChartType)
}

func TestGenerateCountsPerDayWithoutNumericColumns(t *testing.T) {
	schema := model.Schema{{Name: "seen", Type: model.ColumnTemporal}}
	records := []model.Record{
		{"seen": model.StringValue("2024-05-01T10:00:00Z")},
		{"seen": model.StringValue("2024-05-01T12:00:00Z")},
		{"seen": model.StringValue("2024-05-03T09:00:00Z")},
	}
	summary := NewAnalyzer(AnalyzerOptions{}).Analyze(schema, records)

	artifacts, failures := NewVisualizer(VisualizerOptions{}).Generate(schema, records, summary)
	assert.Empty(t, failures)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "Records per day", artifacts[0].Description)
}

func TestGenerateSkipsSinglePointSeries(t *testing.T) {
	schema := model.Schema{{Name: "seen", Type: model.ColumnTemporal}}
	records := []model.Record{{"seen": model.StringValue("2024-05-01")}}
	summary := NewAnalyzer(AnalyzerOptions{}).Analyze(schema, records)

	artifacts, failures := NewVisualizer(VisualizerOptions{}).Generate(schema, records, summary)
	assert.Empty(t, artifacts)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], errTooFewPoints)
}
