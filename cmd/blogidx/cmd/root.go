// Package cmd provides the CLI commands for blogidx.
package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pressridge/blogidx/internal/config"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
	"github.com/pressridge/blogidx/internal/logging"
	"github.com/pressridge/blogidx/pkg/version"
)

// Exit codes for the run and serve commands.
const (
	ExitSuccess       = 0
	ExitPartial       = 1
	ExitFailure       = 2
	ExitConfigError   = 3
	ExitUnrecoverable = 4
)

// exitError carries a process exit code through cobra's error path.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

var (
	configPath     string
	logLevelFlag   string
	logFileFlag    string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the blogidx CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blogidx",
		Short: "Incremental vector indexer for Markdown blog posts",
		Long: `blogidx keeps a vector store in sync with a directory of Markdown
blog posts. It detects new, modified, and deleted posts against a CSV
metadata ledger and updates only what changed, falling back to a full
rebuild when the corpus has churned too much.

Run 'blogidx run' for a one-off indexing pass or 'blogidx serve' for
the scheduler and HTTP control surface.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("blogidx version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "blogidx.yaml", "Path to the configuration file")
	cmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Log file path (default: stderr only)")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = teardownLogging

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig loads the config file, applies CLI overrides, and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, idxerrors.ConfigError(err.Error(), err)
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if logFileFlag != "" {
		cfg.LogFile = logFileFlag
	}
	return cfg, nil
}

func setupLogging(_ *cobra.Command, _ []string) error {
	lc := logging.DefaultConfig()
	if logLevelFlag != "" {
		lc.Level = logLevelFlag
	}
	lc.FilePath = logFileFlag

	cleanup, err := logging.SetupDefault(lc)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// Execute runs the root command and maps the outcome to an exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	if err == nil {
		return ExitSuccess
	}

	if ee, ok := err.(*exitError); ok {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", ee.err)
		}
		return ee.code
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	if idxerrors.GetKind(err) == idxerrors.KindConfig {
		return ExitConfigError
	}
	return ExitUnrecoverable
}

func defaultLogger() *slog.Logger { return slog.Default() }

// writeJSONFile writes v as indented JSON, creating parent directories.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
