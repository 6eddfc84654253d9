package pipeline

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-data-insight/internal/model"
	"open-data-insight/pkg/utils"
)

func TestExportWritesSummaryArtifacts(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	summary := &model.IngestionSummary{
		RecordCount:  2,
		SchemaFields: []string{"id", "name"},
		SampleRecords: []model.Record{
			{"id": model.NumberValue(1), "name": model.StringValue("a,b")},
			{"id": model.NumberValue(2)},
		},
		Visualizations: []model.VisualizationArtifact{
			{Column: "geo/city", ChartType: model.ChartBar, ImageBase64: base64.StdEncoding.EncodeToString(png)},
			{Column: "bad", ChartType: model.ChartLine, ImageBase64: "%%%"},
		},
	}
	out := utils.NewOutputManager(t.TempDir())

	results := NewExportManager("job-9", out).Export(summary)
	require.Len(t, results, 4)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.True(t, results[2].Success)
	assert.False(t, results[3].Success)
	assert.Contains(t, results[3].Error, "decode chart")

	csvData, err := os.ReadFile(filepath.Join(out.BaseOutputDir, "job-9", "sample.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,\"a,b\"\n2,\n", string(csvData))

	chart, err := os.ReadFile(filepath.Join(out.BaseOutputDir, "job-9", "01_bar_geo_city.png"))
	require.NoError(t, err)
	assert.Equal(t, png, chart)

	_, err = os.Stat(filepath.Join(out.BaseOutputDir, "job-9", "summary.json"))
	assert.NoError(t, err)
}
