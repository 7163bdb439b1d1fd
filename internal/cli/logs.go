package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/andywolf/agentcast/internal/postlog"
)

var logCmd = &cobra.Command{
	Use:     "log",
	Aliases: []string{"logs"},
	Short:   "Show published posts",
	Long: `Show the most recent entries of an agent's post log.

Example:
  agentcast log --agent zorp
  agentcast log --agent zorp --tail 50 --json
  agentcast log --agent zorp --since 24h`,
	RunE: showLog,
}

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().Int("tail", 20, "Number of entries to show (0 for all)")
	logCmd.Flags().Bool("json", false, "Print entries as JSON lines")
	logCmd.Flags().String("since", "", "Show posts since timestamp (e.g., 2024-01-01T00:00:00Z) or duration (e.g., 24h)")
}

// parseSince accepts a duration back from now or an RFC 3339 timestamp.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if dur, err := time.ParseDuration(s); err == nil {
		return now.Add(-dur), nil
	}
	since, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since value: %s", s)
	}
	return since, nil
}

// filterSince keeps entries at or after since and then the last tail of them.
func filterSince(entries []postlog.Entry, since time.Time, tail int) []postlog.Entry {
	var kept []postlog.Entry
	for _, e := range entries {
		if !e.Timestamp.Before(since) {
			kept = append(kept, e)
		}
	}
	if tail > 0 && len(kept) > tail {
		kept = kept[len(kept)-tail:]
	}
	return kept
}

func showLog(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tail, _ := cmd.Flags().GetInt("tail")
	asJSON, _ := cmd.Flags().GetBool("json")
	sinceStr, _ := cmd.Flags().GetString("since")
	since, err := parseSince(sinceStr, time.Now())
	if err != nil {
		return err
	}

	limit := tail
	if !since.IsZero() {
		limit = 0
	}
	entries, err := postlog.ReadRecent(ctx, cfg.PostLog.Backend, cfg.PostLogPath(), cfg.Agent, limit)
	if err != nil {
		return fmt.Errorf("failed to read post log: %w", err)
	}
	if !since.IsZero() {
		entries = filterSince(entries, since, tail)
	}
	return printEntries(cmd.OutOrStdout(), entries, asJSON)
}

func printEntries(w io.Writer, entries []postlog.Entry, asJSON bool) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No posts published yet.")
		return nil
	}

	if asJSON {
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	fmt.Fprintf(w, "%-20s %-14s %-10s %s\n", "TIME", "POST", "PUBLISHER", "CONTENT")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, e := range entries {
		fmt.Fprintf(w, "%-20s %-14s %-10s %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.PostID, e.Publisher, truncate(e.Content, 60))
	}
	return nil
}
