package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pressridge/blogidx/internal/config"
	"github.com/pressridge/blogidx/internal/pipeline"
)

// newRunCmd creates the run command for a one-off indexing pass.
func newRunCmd() *cobra.Command {
	var (
		dataDir       string
		mode          string
		forceRecreate bool
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one indexing pass",
		Long: `Run one indexing pass: load posts, detect changes against the
metadata ledger, and update the vector store.

Exit codes: 0 success, 1 partial, 2 failure, 3 configuration error.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return exitWith(ExitConfigError, err)
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if mode != "" {
				cfg.IncrementalMode = mode
			}
			if forceRecreate {
				cfg.ForceRecreate = true
			}
			if err := cfg.Validate(); err != nil {
				return exitWith(ExitConfigError, err)
			}

			jobID := "run-" + uuid.NewString()[:8]
			engine := pipeline.NewEngine(nil, nil, defaultLogger())
			report := engine.Run(cmd.Context(), jobID, cfg)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return exitWith(ExitUnrecoverable, err)
				}
			} else {
				printReportSummary(cmd, report)
			}

			if code := report.ExitCode(); code != ExitSuccess {
				return exitWith(code, nil)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Override the posts directory")
	cmd.Flags().StringVar(&mode, "mode", "",
		fmt.Sprintf("Indexing mode (%s, %s, %s)", config.ModeAuto, config.ModeIncremental, config.ModeFull))
	cmd.Flags().BoolVar(&forceRecreate, "force-recreate", false, "Drop and rebuild the vector store")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full run report as JSON")

	return cmd
}

func printReportSummary(cmd *cobra.Command, report pipeline.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status:   %s (%s)\n", report.Status, report.Mode)
	fmt.Fprintf(out, "loaded:   %d posts\n", report.Counts.Loaded)
	fmt.Fprintf(out, "changes:  %d new, %d modified, %d deleted\n",
		report.Counts.New, report.Counts.Modified, report.Counts.Deleted)
	fmt.Fprintf(out, "store:    %d chunks upserted, %d removed\n",
		report.Counts.Upserted, report.Counts.Removed)
	fmt.Fprintf(out, "duration: %s\n", report.EndTime.Sub(report.StartTime))
	for _, w := range report.Warnings {
		fmt.Fprintf(out, "warning:  %s\n", w)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(out, "error:    %s\n", e)
	}
}
