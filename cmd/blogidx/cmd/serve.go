package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pressridge/blogidx/internal/health"
	"github.com/pressridge/blogidx/internal/ledger"
	"github.com/pressridge/blogidx/internal/pipeline"
	"github.com/pressridge/blogidx/internal/scheduler"
	"github.com/pressridge/blogidx/internal/server"
	"github.com/pressridge/blogidx/internal/watcher"
	"github.com/pressridge/blogidx/pkg/version"
)

// newServeCmd creates the serve command: scheduler plus HTTP control
// surface, optionally with a filesystem watch mode.
func newServeCmd() *cobra.Command {
	var (
		listenAddr string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP control surface",
		Long: `Run blogidx as a long-lived process. Persisted jobs fire on their
cron, interval, or one-time triggers, and the HTTP API exposes job
management, manual runs, run reports, and health.

With --watch, changes to the posts directory also trigger a run after
a short settle period.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return exitWith(ExitConfigError, err)
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}

			logger := defaultLogger()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.BuildInfoPath != "" {
				if err := writeJSONFile(cfg.BuildInfoPath, version.GetInfo()); err != nil {
					logger.Warn("failed to write build info",
						slog.String("path", cfg.BuildInfoPath),
						slog.String("error", err.Error()))
				}
			}

			engine := pipeline.NewEngine(nil, nil, logger)

			store, err := scheduler.OpenJobStore(cfg.JobsDBPath)
			if err != nil {
				return exitWith(ExitUnrecoverable, err)
			}
			defer store.Close()

			sched, err := scheduler.New(store, engine, cfg.MaxConcurrentJobs, nil, logger)
			if err != nil {
				return exitWith(ExitUnrecoverable, err)
			}
			sched.Start()
			defer sched.Stop()

			led := ledger.New(cfg.MetadataCSVPath, nil, logger)
			checker := health.New(cfg, led, nil, engine.Monitor(), logger)

			srv := server.New(cfg, sched, engine, checker, logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(cfg.ListenAddr)
			}()

			if watch {
				w, err := watcher.New(cfg.DataDir, watcher.DefaultDebounce, nil, logger,
					func(ctx context.Context) {
						report := engine.Run(ctx, "watch", cfg.Clone())
						logger.Info("watch run finished",
							slog.String("status", string(report.Status)))
					})
				if err != nil {
					_ = srv.Shutdown(context.Background())
					return exitWith(ExitConfigError, err)
				}
				go func() { _ = w.Run(ctx) }()
			}

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				if err := srv.Shutdown(context.Background()); err != nil {
					logger.Warn("http shutdown failed", slog.String("error", err.Error()))
				}
			case err := <-errCh:
				if err != nil {
					return exitWith(ExitUnrecoverable, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (default from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Trigger a run when the posts directory changes")

	return cmd
}
