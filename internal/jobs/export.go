package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"open-data-insight/internal/model"
	"open-data-insight/internal/pipeline"
	"open-data-insight/pkg/utils"
)

type exportingRunner struct {
	Runner
	output *utils.OutputManager
	logger *zap.Logger
}

// WithExport writes the summary, sample CSV and charts of every successful
// run under outputDir/<job-id>/. Export failures become job warnings. An
// empty outputDir disables exporting.
func WithExport(r Runner, outputDir string, logger *zap.Logger) Runner {
	if outputDir == "" {
		return r
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &exportingRunner{Runner: r, output: utils.NewOutputManager(outputDir), logger: logger}
}

func (e *exportingRunner) Run(ctx context.Context, jobID string, conn *model.DatasetConnection, onStage pipeline.StageFunc) (*pipeline.Result, error) {
	res, err := e.Runner.Run(ctx, jobID, conn, onStage)
	if err != nil || res == nil || res.Summary == nil {
		return res, err
	}
	written := 0
	for _, r := range pipeline.NewExportManager(jobID, e.output).Export(res.Summary) {
		if !r.Success {
			res.Warnings = append(res.Warnings, fmt.Sprintf("export %s failed: %s", r.Type, r.Error))
			continue
		}
		written++
	}
	e.logger.Debug("exported job artifacts", zap.String("job_id", jobID), zap.Int("files", written))
	return res, nil
}
