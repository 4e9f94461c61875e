// Package cli implements the copilot command line: the API server and
// one-shot request tooling.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "copilot",
	Short: "Platform engineering copilot orchestrator",
	Long: `copilot plans user requests, routes them to compliance, infrastructure,
deployment, environment, discovery, cost and knowledge executors, and merges
their answers into one response.

Running 'copilot' without a subcommand is equivalent to 'copilot serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(eventsCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to copilot.yaml (default: $COPILOT_CONFIG or ./copilot.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration honoring --config and --log-level, and
// installs the configured logger as the slog default. The returned Closer
// flushes buffered log records.
func loadConfig(cmd *cobra.Command) (*config.Config, logger.Closer, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}

	var cfg *config.Config
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	return cfg, closer, nil
}
