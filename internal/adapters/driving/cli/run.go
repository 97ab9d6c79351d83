package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the log shipping pipeline",
	Long: `Runs the pipeline until interrupted. Every input is listed each poll
interval and new or grown objects are harvested and delivered to the output.

With --once every input is listed a single time and the command exits when
all discovered objects were processed.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "process discovered objects once and exit")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runPipeline(ctx, cfg, runOnce, cmd.OutOrStdout())
}
