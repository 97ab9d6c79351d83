package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

var stateListIncomplete bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and reset read progress",
	Long: `Inspect and reset the per-object read progress kept in the state store.

Examples:
  # Show every tracked object
  s3logsbeat state list

  # Show objects that will be resumed on the next run
  s3logsbeat state list --incomplete

  # Harvest an object again from the beginning
  s3logsbeat state reset my-bucket/AWSLogs/2024/03/01/a.log.gz`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked objects",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Forget the read progress of an object",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateReset,
}

func init() {
	stateListCmd.Flags().BoolVar(&stateListIncomplete, "incomplete", false, "only objects neither completed nor failed")
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateResetCmd)
	rootCmd.AddCommand(stateCmd)
}

// withStateStore opens the configured state store for the duration of fn.
func withStateStore(fn func(driven.StateStore) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	states, err := openStateStore(cfg.State)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, states.Close())
	}()
	return fn(states)
}

func runStateList(cmd *cobra.Command, _ []string) error {
	return withStateStore(func(states driven.StateStore) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var list []domain.ReadState
		var err error
		if stateListIncomplete {
			list, err = states.ListIncomplete(ctx)
		} else {
			list, err = states.List(ctx)
		}
		if err != nil {
			return fmt.Errorf("listing read states: %w", err)
		}

		if len(list) == 0 {
			cmd.Println("No tracked objects.")
			return nil
		}
		for i := range list {
			printState(cmd, &list[i])
		}
		cmd.Printf("Total: %d objects\n", len(list))
		return nil
	})
}

func printState(cmd *cobra.Command, s *domain.ReadState) {
	cmd.Printf("  %s\n", s.Key)
	cmd.Printf("    Status:   %s\n", stateStatus(s))
	cmd.Printf("    Progress: %s of %s\n", humanize.IBytes(uint64(max(s.Offset, 0))), humanize.IBytes(uint64(max(s.Size, 0))))
	if s.Attempts > 0 {
		cmd.Printf("    Attempts: %d\n", s.Attempts)
	}
	if s.LastError != "" {
		cmd.Printf("    Error:    %s\n", s.LastError)
	}
	if !s.UpdatedAt.IsZero() {
		cmd.Printf("    Updated:  %s (%s)\n", s.UpdatedAt.Format("2006-01-02 15:04:05"), humanize.Time(s.UpdatedAt))
	}
	cmd.Println()
}

func stateStatus(s *domain.ReadState) string {
	switch {
	case s.Failed:
		return "failed"
	case s.Completed:
		return "completed"
	case s.Offset > 0:
		return "in progress"
	default:
		return "pending"
	}
}

func runStateReset(cmd *cobra.Command, args []string) error {
	key := args[0]
	return withStateStore(func(states driven.StateStore) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if _, err := states.Get(ctx, key); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("no read state for %s: %w", key, err)
			}
			return fmt.Errorf("reading read state: %w", err)
		}
		if err := states.Delete(ctx, key); err != nil {
			return fmt.Errorf("resetting read state: %w", err)
		}
		cmd.Printf("Read state for %s reset; it will be harvested again from the start.\n", key)
		return nil
	})
}
