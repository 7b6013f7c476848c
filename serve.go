package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/akeyanjam/mbss-test/internal/api"
	"github.com/akeyanjam/mbss-test/internal/config"
	"github.com/akeyanjam/mbss-test/internal/dashboard"
	"github.com/akeyanjam/mbss-test/internal/discovery"
	"github.com/akeyanjam/mbss-test/internal/engine"
	"github.com/akeyanjam/mbss-test/internal/store"
)

// pidFileName lives under the artifact root; its flock stops a second daemon
// from sharing the same database and artifact tree.
const pidFileName = ".mbss-test.pid"

// Serve-only flags, bound in newServeCmd().
var (
	flagServePort  int
	flagDriverCmd  string
	flagDriverArgs []string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon",
		Long: `Start the orchestrator: catalog discovery, the run queue, the cron
scheduler, the retention sweeper, and the HTTP API on the configured port.

Interrupted runs from a previous process are failed before any work is
accepted. SIGINT/SIGTERM shuts down gracefully; a second signal force-exits.`,
		RunE: runServe,
	}

	cmd.Flags().IntVar(&flagServePort, "port", 0, "listen port (overrides config file and PORT)")
	cmd.Flags().StringVar(&flagDriverCmd, "driver", "node", "browser-test driver command")
	cmd.Flags().StringSliceVar(&flagDriverArgs, "driver-args", []string{"runner.js"},
		"leading driver arguments; the spec path and output directory are appended per test")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	cfg, err := loadAppConfig(cmd)
	if err != nil {
		return err
	}

	// --port is the top override layer, above the PORT variable.
	if cmd.Flags().Changed("port") {
		cfg.Port = flagServePort

		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("config: validation failed: %w", err)
		}
	}

	envs, err := config.LoadEnvironments(cfg.ConfigDir)
	if err != nil {
		return err
	}

	users, err := config.LoadUsers(cfg.ConfigDir)
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), logger)

	removePID, err := writePIDFile(filepath.Join(cfg.ArtifactRoot, pidFileName))
	if err != nil {
		return err
	}
	defer removePID()

	st, err := store.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// Whatever the previous process left queued or running is failed before
	// any loop starts or the API serves a single request.
	if _, _, err := st.RecoverInterrupted(ctx); err != nil {
		return err
	}

	syncer := discovery.NewSyncer(cfg.TestRoot, st, logger)
	if _, err := syncer.Sync(ctx); err != nil {
		return fmt.Errorf("initial catalog sync: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := engine.NewMetrics(registry)

	driver := engine.NewDriver(flagDriverCmd, flagDriverArgs, cfg.TestRoot, logger)
	executor := engine.NewExecutor(st, driver, cfg.TestRoot, cfg.ArtifactRoot, logger, metrics)
	queue := engine.NewQueue(st, executor, cfg.MaxConcurrentRuns, 0, logger, metrics)
	scheduler := engine.NewScheduler(st, 0, logger, metrics)
	retention := engine.NewRetention(st, cfg.ArtifactRoot, cfg.RetentionDays, 0, 0, logger, metrics)
	watcher := discovery.NewWatcher(cfg.TestRoot, syncer, 0, logger)

	dash := dashboard.NewService(st.DB(), logger)
	hub := api.NewHub(dash, logger)
	server := api.NewServer(st, dash, envs, users, hub, cfg.ArtifactRoot, registry, logger)

	logger.Info("orchestrator starting",
		slog.Int("port", cfg.Port),
		slog.String("test_root", cfg.TestRoot),
		slog.String("artifact_root", cfg.ArtifactRoot),
		slog.Int("max_concurrent_runs", cfg.MaxConcurrentRuns),
		slog.Int("retention_days", cfg.RetentionDays))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return retention.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return server.Run(gctx, fmt.Sprintf(":%d", cfg.Port)) })

	if err := g.Wait(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	logger.Info("orchestrator stopped")

	return nil
}
