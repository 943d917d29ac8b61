package cmd

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pressridge/blogidx/internal/batch"
	"github.com/pressridge/blogidx/internal/config"
	"github.com/pressridge/blogidx/internal/health"
	"github.com/pressridge/blogidx/internal/ledger"
	"github.com/pressridge/blogidx/internal/monitor"
	"github.com/pressridge/blogidx/internal/pipeline"
	"github.com/pressridge/blogidx/internal/vectorstore"
)

// newHealthCmd creates the health command.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check ledger, vector store, backup, and system health",
		Long: `Check ledger integrity, vector store reachability, backup state,
configuration validity, and system resources. The report is printed
as JSON.

Exit codes: 0 healthy, 1 warnings, 2 unhealthy.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return exitWith(ExitConfigError, err)
			}

			logger := defaultLogger()
			led := ledger.New(cfg.MetadataCSVPath, nil, logger)
			mon := monitor.New(nil, logger)

			var prober health.StoreProber
			if manager := openStoreForProbe(cmd, cfg, logger); manager != nil {
				defer manager.Close()
				prober = manager
			}

			checker := health.New(cfg, led, prober, mon, logger)
			report := checker.Run(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return exitWith(ExitUnrecoverable, err)
			}
			if cfg.HealthReportPath != "" {
				if err := writeJSONFile(cfg.HealthReportPath, report); err != nil {
					logger.Warn("failed to write health report file",
						slog.String("path", cfg.HealthReportPath),
						slog.String("error", err.Error()))
				}
			}

			switch report.Overall {
			case health.StatusHealthy:
				return nil
			case health.StatusWarning:
				return exitWith(ExitPartial, nil)
			default:
				return exitWith(ExitFailure, nil)
			}
		},
	}
	return cmd
}

// openStoreForProbe opens the vector store read-mostly for the
// reachability check. Failure to open is reported by the checker as a
// missing store, not a command error.
func openStoreForProbe(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) *vectorstore.Manager {
	embedder, err := pipeline.DefaultEmbedderFactory(cfg, logger)
	if err != nil {
		return nil
	}
	manager, err := vectorstore.NewManager(cmd.Context(), cfg, embedder, batch.New(nil, logger), logger, false)
	if err != nil {
		_ = embedder.Close()
		return nil
	}
	return manager
}
