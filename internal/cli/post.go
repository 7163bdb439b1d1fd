package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Publish the next post once",
	Long: `Publish the agent's next post immediately and exit.

The cursor moves exactly as it would on a scheduled tick. Reaching the end of
the content does not trigger the end policy.

Example:
  agentcast post --agent zorp
  agentcast post --agent zorp --dry-run`,
	RunE: postOnce,
}

func init() {
	rootCmd.AddCommand(postCmd)

	postCmd.Flags().Bool("dry-run", false, "Log the post instead of publishing it")
}

func postOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	live := cfg.Live() && !dryRun

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, live)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "Warning: cleanup failed:", err)
		}
	}()

	out, err := rt.manager.PostNext(ctx, live)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), describeOutcome(out))
	if out.Err != nil {
		return fmt.Errorf("publish failed: %w", out.Err)
	}
	return nil
}
