package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andywolf/agentcast/internal/config"
	"github.com/andywolf/agentcast/internal/cursor"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents in the content directory",
	RunE:  listAgents,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func listAgents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.LoadFrom(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	agents, err := store.List()
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No agents found in %s\n", store.Dir())
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tPOSTS\tCURSOR\tEVERY")
	for _, agent := range agents {
		doc, err := store.Load(ctx, agent)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t%v\t-\n", agent, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%dm\n",
			agent, doc.CountPosts(), cursor.FromTracker(doc.Tracker), doc.Tracker.PostEveryXMinutes)
	}
	return w.Flush()
}
