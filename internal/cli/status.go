package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andywolf/agentcast/internal/content"
	"github.com/andywolf/agentcast/internal/cursor"
	"github.com/andywolf/agentcast/internal/postlog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show an agent's posting position",
	Long: `Show where an agent's cursor is, what will be posted next, and the most
recent entry in its post log.

Example:
  agentcast status --agent zorp`,
	RunE: showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	doc, err := store.Load(ctx, cfg.Agent)
	if err != nil {
		return err
	}

	var last *postlog.Entry
	recent, err := postlog.ReadRecent(ctx, cfg.PostLog.Backend, cfg.PostLogPath(), cfg.Agent, 1)
	if err != nil {
		return fmt.Errorf("failed to read post log: %w", err)
	}
	if len(recent) > 0 {
		last = &recent[0]
	}

	return printDocumentStatus(cmd.OutOrStdout(), cfg.Agent, store.Path(cfg.Agent), doc, last)
}

func printDocumentStatus(w io.Writer, agent, path string, doc *content.Document, last *postlog.Entry) error {
	c := cursor.FromTracker(doc.Tracker)
	fmt.Fprintf(w, "Agent:     %s\n", agent)
	fmt.Fprintf(w, "Document:  %s\n", path)
	fmt.Fprintf(w, "Seasons:   %d (%d posts)\n", len(doc.Seasons), doc.CountPosts())
	fmt.Fprintf(w, "Interval:  every %d minutes\n", doc.Tracker.PostEveryXMinutes)
	fmt.Fprintf(w, "Cursor:    %s\n", c)

	res, err := cursor.Advance(doc, c)
	if err != nil {
		return err
	}
	if res.Found() {
		fmt.Fprintf(w, "Next post: %s\n", res.At.PostID())
		fmt.Fprintf(w, "           %s\n", truncate(res.Post.Content, 120))
	} else {
		fmt.Fprintln(w, "Next post: none, content exhausted")
	}

	if last != nil {
		fmt.Fprintf(w, "Last post: %s at %s", last.PostID, last.Timestamp.Format("2006-01-02 15:04:05 MST"))
		if last.AckID != "" {
			fmt.Fprintf(w, " (%s %s)", last.Publisher, last.AckID)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
