package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"open-data-insight/internal/config"
	"open-data-insight/internal/model"
)

// Options configures every stage of a run.
type Options struct {
	Fetcher    FetcherOptions
	Normalizer NormalizerOptions
	Analyzer   AnalyzerOptions
	Visualizer VisualizerOptions
}

// OptionsFromConfig maps the pipeline config section onto stage options.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		Fetcher: FetcherOptions{
			MaxPages:       cfg.MaxPages,
			MaxRecords:     cfg.MaxRecords,
			RequestTimeout: cfg.RequestTimeout,
			RateLimitRPS:   cfg.RateLimitRPS,
			UserAgent:      cfg.UserAgent,
			Retry:          cfg.Retry,
		},
		Normalizer: NormalizerOptions{
			MaxFlattenDepth: cfg.MaxFlattenDepth,
			InferenceSample: cfg.InferenceSample,
			TypeThreshold:   cfg.TypeThreshold,
		},
		Analyzer: AnalyzerOptions{
			SampleLimit:      cfg.SampleLimit,
			TopCategories:    cfg.TopCategories,
			HistogramBuckets: cfg.HistogramBuckets,
		},
		Visualizer: VisualizerOptions{
			MaxCharts:        cfg.MaxCharts,
			HistogramBuckets: cfg.HistogramBuckets,
		},
	}
}

// Pipeline runs fetch, normalize, analyze and visualize for one connection.
type Pipeline struct {
	fetcher    *Fetcher
	normalizer *Normalizer
	analyzer   *Analyzer
	visualizer *Visualizer
	logger     *zap.Logger
}

func New(client *http.Client, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:    NewFetcher(client, opts.Fetcher, logger.Named("fetcher")),
		normalizer: NewNormalizer(opts.Normalizer),
		analyzer:   NewAnalyzer(opts.Analyzer),
		visualizer: NewVisualizer(opts.Visualizer),
		logger:     logger,
	}
}

// Result is the outcome of a successful run.
type Result struct {
	Summary  *model.IngestionSummary
	Warnings []string
	Metrics  model.PipelineMetrics
}

// Run executes all stages sequentially. Recoverable problems are returned
// as warnings; a *FetchError or *FormatError aborts the run.
func (p *Pipeline) Run(ctx context.Context, jobID string, conn *model.DatasetConnection, onStage StageFunc) (res *Result, err error) {
	start := time.Now()
	log := p.logger.With(zap.String("job_id", jobID), zap.String("connection_id", conn.ID))
	tracker := NewPipelineTracker(jobID, log, onStage)
	var warnings []string
	warn := func(msg string) {
		warnings = append(warnings, msg)
		tracker.RecordWarning()
		log.Warn("pipeline warning", zap.String("warning", msg))
	}
	defer func() {
		if err != nil {
			tracker.Fail()
			log.Error("pipeline failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		}
	}()

	// --- FETCH + PARSE ---
	tracker.StartStage(model.StageFetch)
	dataset, err := p.collect(ctx, conn, tracker, warn)
	if err != nil {
		tracker.FailStage(model.StageFetch, err)
		return nil, err
	}
	tracker.EndStage(model.StageFetch, int64(dataset.Len()))

	// --- NORMALIZE ---
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	tracker.StartStage(model.StageNormalize)
	schema, ambiguous := p.normalizer.InferSchema(dataset.Columns, dataset.Records)
	for _, w := range ambiguous {
		warn(w.Error())
	}
	nulled := p.normalizer.Coerce(schema, dataset.Records)
	for _, col := range schema {
		if n := nulled[col.Name]; n > 0 {
			warn(fmt.Sprintf("column %q: %d non-conforming value(s) set to null", col.Name, n))
		}
	}
	tracker.EndStage(model.StageNormalize, int64(dataset.Len()))

	// --- ANALYZE ---
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	tracker.StartStage(model.StageAnalyze)
	summary := p.analyzer.Analyze(schema, dataset.Records)
	tracker.EndStage(model.StageAnalyze, int64(summary.RecordCount))

	// --- VISUALIZE ---
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("visualize: %w", err)
	}
	tracker.StartStage(model.StageVisualize)
	artifacts, failures := p.visualizer.Generate(schema, dataset.Records, summary)
	for _, f := range failures {
		warn(f.Error())
	}
	summary.Visualizations = artifacts
	tracker.EndStage(model.StageVisualize, int64(len(artifacts)))

	tracker.Complete()
	metrics := tracker.Metrics()
	log.Info("pipeline completed",
		zap.Int("records", summary.RecordCount),
		zap.Int("columns", len(schema)),
		zap.Int("pages", metrics.PagesFetched),
		zap.Int("charts", len(artifacts)),
		zap.Int("warnings", len(warnings)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Result{Summary: summary, Warnings: warnings, Metrics: metrics}, nil
}

// collect follows pagination, parsing each page as it arrives so only one
// raw body is held at a time.
func (p *Pipeline) collect(ctx context.Context, conn *model.DatasetConnection, tracker *PipelineTracker, warn func(string)) (*Dataset, error) {
	cur, err := FirstCursor(conn)
	if err != nil {
		return nil, err
	}
	opts := p.fetcher.Options()
	dataset := NewDataset()
	seen := map[string]bool{}

	for {
		seen[cur.String()] = true
		page, err := p.fetcher.Fetch(ctx, cur)
		if err != nil {
			return nil, err
		}
		parsed, err := p.normalizer.ParsePage(page, conn.DataFormat)
		if err != nil {
			return nil, err
		}
		tracker.RecordPage(len(parsed.Records), page.Attempts)
		if parsed.Skipped > 0 {
			warn(fmt.Sprintf("page %d: %d non-object item(s) skipped", cur.Number, parsed.Skipped))
		}

		truncated := dataset.Append(parsed, opts.MaxRecords-dataset.Len())
		next, more := p.fetcher.Next(conn, cur, page, parsed)
		page.Body = nil
		if dataset.Len() >= opts.MaxRecords {
			if truncated || more {
				warn(fmt.Sprintf("record limit of %d reached; remaining data was not fetched", opts.MaxRecords))
			}
			return dataset, nil
		}
		if !more {
			return dataset, nil
		}
		if seen[next.String()] {
			warn(fmt.Sprintf("pagination loop detected at %s; stopped", next.Redacted()))
			return dataset, nil
		}
		if cur.Number >= opts.MaxPages {
			warn(fmt.Sprintf("page limit of %d reached; remaining data was not fetched", opts.MaxPages))
			return dataset, nil
		}
		cur = next
	}
}
