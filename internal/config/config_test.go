package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-data-insight/internal/model"
)

func TestLoad(t *testing.T) {
	t.Run("loads defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, "sqlite:///open_data_insight.db", cfg.Database.URL)
		assert.Equal(t, 50, cfg.Pipeline.MaxPages)
		assert.Equal(t, 100000, cfg.Pipeline.MaxRecords)
		assert.Equal(t, 3, cfg.Pipeline.Retry.MaxRetries)
		assert.Equal(t, 750*time.Millisecond, cfg.Pipeline.Retry.InitialDelay)
		assert.Equal(t, 0.9, cfg.Pipeline.TypeThreshold)
		assert.Equal(t, 10, cfg.Pipeline.HistogramBuckets)
		assert.Equal(t, 5*time.Minute, cfg.Jobs.Timeout)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "custom.yaml")
		require.NoError(t, os.WriteFile(file, []byte("database:\n  url: memory://\njobs:\n  workers: 2\n"), 0o600))
		t.Setenv("OPEN_DATA_JOBS_WORKERS", "7")

		cfg, err := Load(file)
		require.NoError(t, err)
		assert.Equal(t, "memory://", cfg.Database.URL)
		assert.Equal(t, 7, cfg.Jobs.Workers)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("OPEN_DATA_PIPELINE_TYPE_THRESHOLD", "1.5")
		_, err := Load("")
		assert.ErrorContains(t, err, "type_threshold")
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadSeedConnections(t *testing.T) {
	file := filepath.Join(t.TempDir(), "seed.yaml")
	seed := `
connections:
  - id: air-quality
    portal_name: city
    dataset_id: aq
    base_url: https://data.example.org
    path: /api/aq
    data_format: json
    query_parameters:
      - name: limit
        value: "100"
    pagination:
      mode: offset
      page_param: offset
      size_param: limit
      page_size: 100
`
	require.NoError(t, os.WriteFile(file, []byte(seed), 0o600))

	conns, err := LoadSeedConnections(file)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "air-quality", conns[0].ID)
	assert.Equal(t, model.FormatJSON, conns[0].DataFormat)
	assert.Equal(t, model.PaginationOffset, conns[0].Pagination.Mode)
	assert.Equal(t, 100, conns[0].Pagination.PageSize)

	none, err := LoadSeedConnections("")
	require.NoError(t, err)
	assert.Empty(t, none)
}
