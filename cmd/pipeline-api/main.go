package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"open-data-insight/internal/api"
	"open-data-insight/internal/api/handler"
	"open-data-insight/internal/config"
	"open-data-insight/internal/jobs"
	"open-data-insight/internal/logging"
	"open-data-insight/internal/pipeline"
	"open-data-insight/internal/store"
	"open-data-insight/pkg/router"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file (default ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("close store", zap.Error(err))
		}
	}()
	if pool, ok := repo.(interface{ SetMaxOpenConns(int) }); ok {
		pool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}

	seeds, err := config.LoadSeedConnections(cfg.Connections.SeedFile)
	if err != nil {
		return err
	}
	added, err := store.Seed(ctx, repo, seeds)
	if err != nil {
		return err
	}
	if len(seeds) > 0 {
		logger.Info("seed connections loaded", zap.Int("declared", len(seeds)), zap.Int("added", added))
	}

	p := pipeline.New(nil, pipeline.OptionsFromConfig(cfg.Pipeline), logger.Named("pipeline"))
	runner := jobs.WithExport(p, cfg.Server.OutputDir, logger.Named("export"))
	orch := jobs.New(repo, runner, jobs.OptionsFromConfig(cfg.Jobs), logger.Named("orchestrator"))
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	r := router.New(logger.Named("http"))
	api.RegisterRoutes(r, handler.New(repo, p.Tester(cfg.Pipeline.PreviewLimit), orch, logger.Named("api")))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("database", redactDatabaseURL(cfg.Database.URL)),
			zap.Int("workers", cfg.Jobs.Workers),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := orch.Close(shutdownCtx); err != nil {
		logger.Warn("orchestrator did not drain before the deadline", zap.Error(err))
	}
	return nil
}

// redactDatabaseURL hides the password of a postgres URL for logging.
func redactDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
