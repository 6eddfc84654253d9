package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"open-data-insight/internal/config"
	"open-data-insight/internal/model"
	"open-data-insight/internal/pipeline"
	"open-data-insight/internal/store"
)

const (
	msgQueueFull   = "ingestion queue is full"
	msgInterrupted = "interrupted by service restart"
	msgShutdown    = "interrupted by service shutdown"

	// finishTimeout bounds the final write after the run context expired.
	finishTimeout = 10 * time.Second
)

var ErrClosed = errors.New("orchestrator is closed")

var activeStatuses = []model.JobStatus{model.JobPending, model.JobRunning}

// Runner executes one ingestion. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, jobID string, conn *model.DatasetConnection, onStage pipeline.StageFunc) (*pipeline.Result, error)
}

// Options sizes the worker pool.
type Options struct {
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	RefreshTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	return o
}

func OptionsFromConfig(cfg config.JobsConfig) Options {
	return Options{
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		Timeout:    cfg.Timeout,
		RefreshTTL: cfg.RefreshTTL,
	}
}

// Orchestrator creates ingestion jobs and runs them on a bounded pool of
// workers. Job state lives in the repository; every change is written with
// a compare-and-set on the previous status so readers only ever see whole
// transitions.
type Orchestrator struct {
	repo   store.Repository
	runner Runner
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	locks keyedMutex
	queue chan string

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

func New(repo store.Repository, runner Runner, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		repo:    repo,
		runner:  runner,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan string, opts.QueueSize),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Start fails jobs orphaned by a previous process and launches the workers.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.started {
		return nil
	}
	recovered, err := o.recoverStale(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		o.logger.Warn("failed jobs left over from a previous run", zap.Int("jobs", recovered))
	}
	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	o.started = true
	o.logger.Info("orchestrator started",
		zap.Int("workers", o.opts.Workers),
		zap.Int("queue_size", o.opts.QueueSize),
		zap.Duration("timeout", o.opts.Timeout),
	)
	return nil
}

func (o *Orchestrator) recoverStale(ctx context.Context) (int, error) {
	stale, err := o.repo.ListJobs(ctx, store.JobFilter{Statuses: activeStatuses})
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	n := 0
	for _, job := range stale {
		from := job.Status
		if err := job.Fail(msgInterrupted, nil, o.now()); err != nil {
			continue
		}
		if err := o.repo.UpdateJob(ctx, job, from); err != nil {
			if errors.Is(err, store.ErrStaleJob) {
				continue
			}
			return n, fmt.Errorf("fail stale job %s: %w", job.JobID, err)
		}
		n++
	}
	return n, nil
}

// Submit returns the job that serves an ingestion request for connectionID.
// An active job for the connection is reused. Without forceRefresh, a job
// completed within the refresh TTL is returned as is. Otherwise a new
// pending job is created and queued; when the queue is full it is failed
// immediately.
func (o *Orchestrator) Submit(ctx context.Context, connectionID string, forceRefresh bool) (*model.IngestionJob, error) {
	if _, err := o.repo.GetConnection(ctx, connectionID); err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(connectionID)
	defer unlock()

	active, err := o.repo.ListJobs(ctx, store.JobFilter{ConnectionID: connectionID, Statuses: activeStatuses, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	if len(active) > 0 {
		return active[0], nil
	}

	if !forceRefresh && o.opts.RefreshTTL > 0 {
		recent, err := o.repo.ListJobs(ctx, store.JobFilter{ConnectionID: connectionID, Statuses: []model.JobStatus{model.JobCompleted}, Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("find recent job: %w", err)
		}
		if len(recent) > 0 && recent[0].FinishedAt != nil && o.now().Sub(*recent[0].FinishedAt) < o.opts.RefreshTTL {
			return recent[0], nil
		}
	}

	job := model.NewIngestionJob(connectionID, o.now())
	if err := o.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	log := o.logger.With(zap.String("job_id", job.JobID), zap.String("connection_id", connectionID))

	if err := o.enqueue(job.JobID); err != nil {
		reason := msgQueueFull
		if errors.Is(err, ErrClosed) {
			reason = msgShutdown
		}
		if ferr := job.Fail(reason, nil, o.now()); ferr == nil {
			if uerr := o.repo.UpdateJob(ctx, job, model.JobPending); uerr != nil {
				log.Error("failed to record rejected job", zap.Error(uerr))
			}
		}
		log.Warn("ingestion job rejected", zap.String("reason", reason))
		return job.Clone(), nil
	}
	log.Info("ingestion job queued", zap.Bool("force_refresh", forceRefresh))
	return job.Clone(), nil
}

func (o *Orchestrator) enqueue(jobID string) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.queue <- jobID:
		return nil
	default:
		return errors.New(msgQueueFull)
	}
}

// Job returns a job of connectionID. A job of another connection is
// reported as not found.
func (o *Orchestrator) Job(ctx context.Context, connectionID, jobID string) (*model.IngestionJob, error) {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ConnectionID != connectionID {
		return nil, fmt.Errorf("job %s for connection %s: %w", jobID, connectionID, store.ErrNotFound)
	}
	return job, nil
}

// Jobs lists the jobs of connectionID, newest first.
func (o *Orchestrator) Jobs(ctx context.Context, connectionID string, limit int) ([]*model.IngestionJob, error) {
	if _, err := o.repo.GetConnection(ctx, connectionID); err != nil {
		return nil, err
	}
	return o.repo.ListJobs(ctx, store.JobFilter{ConnectionID: connectionID, Limit: limit})
}

// Close stops accepting jobs and waits for the workers to drain the queue.
// When ctx expires first, running pipelines are cancelled; their jobs fail
// and anything still queued is failed by the next Start.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}
