// Package cli provides the s3logsbeat command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sequra/s3logsbeat/internal/logger"
)

// version is set at build time.
var version = "dev"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "s3logsbeat",
	Short: "Ship log objects from S3 and local files",
	Long: `s3logsbeat discovers log objects in S3 buckets or on the local filesystem,
decodes them record by record and delivers the events to an output.

Read progress is stored durably so that a restart resumes where the last
acknowledged batch ended. Delivery is at-least-once.

Examples:
  # Run continuously with ./s3logsbeat.toml
  s3logsbeat run

  # Harvest everything once and exit
  s3logsbeat run --once --config /etc/s3logsbeat/s3logsbeat.toml

  # Re-import a time window
  s3logsbeat import --since 2024-03-01 --to 2024-03-02`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default s3logsbeat.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the version printed by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}
