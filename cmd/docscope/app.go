package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/c360studio/docscope/config"
	"github.com/c360studio/docscope/dedup"
	"github.com/c360studio/docscope/evaluation"
	"github.com/c360studio/docscope/evaluator"
	"github.com/c360studio/docscope/events"
	"github.com/c360studio/docscope/gitws"
	"github.com/c360studio/docscope/metrics"
	"github.com/c360studio/docscope/provider"
	"github.com/c360studio/docscope/remediation"
	"github.com/c360studio/docscope/server"
	"github.com/c360studio/docscope/store"
)

// runServe wires the service together and blocks until a shutdown signal.
func runServe(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()
	logger.Info("Docscope starting", "version", Version, "addr", cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional NATS mirror; the service runs fine without it.
	var mirror *events.NATSMirror
	if cfg.NATS.URL != "" {
		m, err := events.NewNATSMirror(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("NATS mirror unavailable, events stay local", "url", cfg.NATS.URL, "error", err)
		} else {
			mirror = m
			defer mirror.Close()
			logger.Info("Mirroring job events to NATS",
				"url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
		}
	}

	busOpts := []events.BusOption{events.WithBusLogger(logger)}
	if mirror != nil {
		busOpts = append(busOpts, events.WithMirror(mirror))
	}
	bus := events.NewBus(busOpts...)

	st := store.NewMemory()
	if n, err := st.SweepAbandoned(); err != nil {
		return fmt.Errorf("sweep abandoned records: %w", err)
	} else if n > 0 {
		logger.Warn("Marked stale records as abandoned", "count", n)
	}

	met := metrics.New()
	provider.Wrap(met.InstrumentProvider)

	registry := evaluator.NewRegistry(evaluator.WithLogger(logger))
	if dir := cfg.Evaluation.PromptsDir; dir != "" {
		if err := registry.LoadDir(dir); err != nil {
			logger.Warn("Loading evaluator prompt overrides failed", "dir", dir, "error", err)
		}
		if err := registry.Watch(ctx, dir); err != nil {
			logger.Warn("Watching evaluator prompt overrides failed", "dir", dir, "error", err)
		}
	}

	workspaces := gitws.NewManager(cfg.Workspace.Root,
		gitws.WithLogger(logger),
		gitws.WithCloneTimeout(cfg.Workspace.CloneTimeout),
		gitws.WithCloneDepth(cfg.Workspace.CloneDepth))

	retry := provider.RetryConfig{
		MaxAttempts: cfg.Provider.MaxAttempts,
		BackoffBase: cfg.Provider.BackoffBase,
		MaxBackoff:  provider.DefaultRetryConfig().MaxBackoff,
	}

	evalOrch := evaluation.New(workspaces, registry,
		evaluation.WithLogger(logger),
		evaluation.WithRetryConfig(retry),
		evaluation.WithCurationTopN(cfg.Evaluation.CurationTopN),
		evaluation.WithDedupOptions(dedup.Options{
			LineTolerance:       cfg.Evaluation.DedupLineTolerance,
			SimilarityThreshold: cfg.Evaluation.DedupSimilarity,
		}))
	remOrch := remediation.New(workspaces,
		remediation.WithLogger(logger),
		remediation.WithRetryConfig(retry),
		remediation.WithBatchSize(cfg.Remediation.BatchSize))

	srv := server.New(cfg, server.Deps{
		Bus:         bus,
		Store:       st,
		Metrics:     met,
		Evaluation:  evalOrch,
		Remediation: remOrch,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
