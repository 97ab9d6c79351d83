package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

var (
	importSince string
	importTo    string
)

// timeLayouts are accepted by --since and --to, most specific first.
var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Harvest objects modified within a time window once",
	Long: `Lists every input a single time, harvesting only objects whose last
modification falls within [--since, --to), then exits.

The window replaces any since/to set on the inputs. Times are RFC 3339 or
plain dates, interpreted as UTC when no offset is given.

Examples:
  s3logsbeat import --since 2024-03-01 --to 2024-03-02
  s3logsbeat import --since 2024-03-01T10:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importSince, "since", "", "include objects modified at or after this time (required)")
	importCmd.Flags().StringVar(&importTo, "to", "", "include objects modified before this time (default now)")
	_ = importCmd.MarkFlagRequired("since")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, _ []string) error {
	since, err := parseTime(importSince)
	if err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}
	to := time.Now().UTC()
	if importTo != "" {
		if to, err = parseTime(importTo); err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
	}
	if !since.Before(to) {
		return fmt.Errorf("%w: --since must be before --to", domain.ErrInvalidInput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for i := range cfg.Inputs {
		cfg.Inputs[i].Since = since
		cfg.Inputs[i].To = to
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.PrintErrf("Importing objects modified between %s and %s\n",
		since.Format(time.RFC3339), to.Format(time.RFC3339))
	return runPipeline(ctx, cfg, true, cmd.OutOrStdout())
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an RFC 3339 time or a date", s)
}
