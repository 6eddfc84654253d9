package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"open-data-insight/internal/model"
	"open-data-insight/internal/pipeline"
	"open-data-insight/internal/store"
)

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	log := o.logger.With(zap.Int("worker", id))
	for jobID := range o.queue {
		o.execute(jobID, log.With(zap.String("job_id", jobID)))
	}
}

// execute runs one queued job to a terminal state.
func (o *Orchestrator) execute(jobID string, log *zap.Logger) {
	// Bookkeeping writes must survive cancellation of the run itself.
	bookCtx := context.WithoutCancel(o.baseCtx)

	job, err := o.repo.GetJob(bookCtx, jobID)
	if err != nil {
		log.Error("load queued job", zap.Error(err))
		return
	}
	if job.Status != model.JobPending {
		log.Debug("skipping job that is no longer pending", zap.String("status", string(job.Status)))
		return
	}
	if o.baseCtx.Err() != nil {
		o.fail(bookCtx, job, msgShutdown, nil, log)
		return
	}
	conn, err := o.repo.GetConnection(bookCtx, job.ConnectionID)
	if err != nil {
		o.fail(bookCtx, job, "connection could not be loaded", []string{err.Error()}, log)
		return
	}

	if err := job.Start(o.now()); err != nil {
		log.Error("start job", zap.Error(err))
		return
	}
	if err := o.repo.UpdateJob(bookCtx, job, model.JobPending); err != nil {
		if errors.Is(err, store.ErrStaleJob) {
			log.Warn("job changed before it could start", zap.Error(err))
			return
		}
		log.Error("mark job running", zap.Error(err))
		job.Status = model.JobPending
		o.fail(bookCtx, job, "job could not be started", []string{err.Error()}, log)
		return
	}
	log.Info("ingestion started", zap.String("connection_id", conn.ID))

	ctx, cancel := context.WithTimeout(o.baseCtx, o.opts.Timeout)
	defer cancel()
	result, err := o.run(ctx, bookCtx, job, conn, log)
	if err != nil {
		message := o.failureMessage(ctx, err)
		o.fail(bookCtx, job, message, []string{err.Error()}, log)
		return
	}

	if err := job.Complete(result.Summary, result.Warnings, o.now()); err != nil {
		o.fail(bookCtx, job, "ingestion produced no summary", []string{err.Error()}, log)
		return
	}
	finishCtx, finishCancel := context.WithTimeout(bookCtx, finishTimeout)
	defer finishCancel()
	if err := o.repo.UpdateJob(finishCtx, job, model.JobRunning); err != nil {
		log.Error("record completed job", zap.Error(err))
		return
	}
	o.recordLastIngestion(finishCtx, job, log)
	log.Info("ingestion completed",
		zap.Int("records", result.Summary.RecordCount),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("pages", result.Metrics.PagesFetched),
		zap.Duration("elapsed", job.FinishedAt.Sub(*job.StartedAt)),
	)
}

// run invokes the runner, turning a panic into an error and persisting
// stage changes as they are reported.
func (o *Orchestrator) run(ctx, bookCtx context.Context, job *model.IngestionJob, conn *model.DatasetConnection, log *zap.Logger) (res *pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			res, err = nil, fmt.Errorf("internal error: %v", r)
		}
	}()
	onStage := func(stage string) {
		job.Stage = stage
		if err := o.repo.UpdateJob(bookCtx, job, model.JobRunning); err != nil {
			log.Warn("record job stage", zap.String("stage", stage), zap.Error(err))
		}
	}
	res, err = o.runner.Run(ctx, job.JobID, conn, onStage)
	if err == nil && (res == nil || res.Summary == nil) {
		err = errors.New("pipeline returned no summary")
	}
	return res, err
}

func (o *Orchestrator) fail(ctx context.Context, job *model.IngestionJob, message string, errs []string, log *zap.Logger) {
	from := job.Status
	if err := job.Fail(message, errs, o.now()); err != nil {
		log.Error("fail job", zap.Error(err))
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, finishTimeout)
	defer cancel()
	if err := o.repo.UpdateJob(writeCtx, job, from); err != nil {
		log.Error("record failed job", zap.Error(err))
		return
	}
	log.Warn("ingestion failed", zap.String("message", message), zap.Strings("errors", errs))
}

func (o *Orchestrator) failureMessage(ctx context.Context, err error) string {
	var (
		fetchErr  *pipeline.FetchError
		formatErr *pipeline.FormatError
	)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("ingestion timed out after %s", o.opts.Timeout)
	case o.baseCtx.Err() != nil:
		return msgShutdown
	case errors.As(err, &fetchErr):
		if fetchErr.IsRateLimited() {
			return fmt.Sprintf("failed to fetch data: HTTP 429, rate limited after %d attempts", fetchErr.Attempts)
		}
		if fetchErr.StatusCode != 0 {
			return fmt.Sprintf("failed to fetch data: HTTP %d", fetchErr.StatusCode)
		}
		return "failed to fetch data: remote feed unreachable"
	case errors.As(err, &formatErr):
		return "failed to parse payload as JSON or XML"
	default:
		return "ingestion failed: " + err.Error()
	}
}

// recordLastIngestion copies the completed summary onto the connection.
func (o *Orchestrator) recordLastIngestion(ctx context.Context, job *model.IngestionJob, log *zap.Logger) {
	conn, err := o.repo.GetConnection(ctx, job.ConnectionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("load connection after ingestion", zap.Error(err))
		}
		return
	}
	finished := *job.FinishedAt
	conn.LastIngestedAt = &finished
	conn.LastIngestionSummary = job.Summary
	if err := o.repo.UpdateConnection(ctx, conn); err != nil {
		log.Warn("record last ingestion on connection", zap.Error(err))
	}
}
