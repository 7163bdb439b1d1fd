package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andywolf/agentcast/internal/cursor"
)

var resetCmd = &cobra.Command{
	Use:   "reset [start|exhausted|POST_ID]",
	Short: "Move an agent's cursor",
	Long: `Move an agent's cursor to the first post (default), to the end, or to a
specific post given as s_<season>_e_<episode>_p_<post> with 1-based numbers.

Example:
  agentcast reset --agent zorp
  agentcast reset s_2_e_1_p_1 --agent zorp`,
	Args: cobra.MaximumNArgs(1),
	RunE: resetCursor,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func parseResetTarget(arg string) (cursor.Cursor, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "", "start":
		return cursor.Start(), nil
	case "exhausted", "end":
		return cursor.Exhausted, nil
	default:
		return cursor.ParsePostID(arg)
	}
}

func resetCursor(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	target := ""
	if len(args) == 1 {
		target = args[0]
	}
	c, err := parseResetTarget(target)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Resetting never publishes.
	rt, err := newRuntime(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "Warning: cleanup failed:", err)
		}
	}()

	if err := rt.manager.Reset(ctx, c); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s cursor set to %s\n", cfg.Agent, c)
	return nil
}
