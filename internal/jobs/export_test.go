package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-data-insight/internal/model"
	"open-data-insight/internal/pipeline"
)

func TestWithExportWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	r := WithExport(runFunc(func(ctx context.Context, jobID string, conn *model.DatasetConnection, onStage pipeline.StageFunc) (*pipeline.Result, error) {
		return &pipeline.Result{Summary: &model.IngestionSummary{
			RecordCount:    1,
			SchemaFields:   []string{"v"},
			SampleRecords:  []model.Record{{"v": model.NumberValue(3)}},
			Visualizations: []model.VisualizationArtifact{{Column: "v", ChartType: model.ChartHistogram, ImageBase64: "not base64!"}},
		}}, nil
	}), dir, nil)

	res, err := r.Run(context.Background(), "job-1", &model.DatasetConnection{}, func(string) {})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "job-1", "sample.csv"))
	require.NoError(t, err)
	assert.Equal(t, "v\n3\n", string(data))
	_, err = os.Stat(filepath.Join(dir, "job-1", "summary.json"))
	assert.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "export png failed")
}

func TestWithExportSkipsFailuresAndDisabledDir(t *testing.T) {
	boom := errors.New("boom")
	failing := runFunc(func(ctx context.Context, jobID string, conn *model.DatasetConnection, onStage pipeline.StageFunc) (*pipeline.Result, error) {
		return nil, boom
	})
	_, wrapped := WithExport(failing, "", nil).(*exportingRunner)
	assert.False(t, wrapped)

	dir := t.TempDir()
	_, err := WithExport(failing, dir, nil).Run(context.Background(), "job-2", &model.DatasetConnection{}, func(string) {})
	assert.ErrorIs(t, err, boom)
	_, statErr := os.Stat(filepath.Join(dir, "job-2"))
	assert.True(t, os.IsNotExist(statErr))
}
