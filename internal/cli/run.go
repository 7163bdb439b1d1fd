package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andywolf/agentcast/internal/poster"
	"github.com/andywolf/agentcast/internal/scheduler"
)

// runController adds content reloads to the scheduler controls.
type runController struct {
	*scheduler.Scheduler
	manager *poster.Manager
}

func (c runController) Reload(ctx context.Context) error {
	return c.manager.Reload(ctx)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the posting scheduler",
	Long: `Run the posting scheduler for an agent until stopped.

One post is published per interval (the tracker's post_every_x_minutes unless
--interval is given). While running, type status, post, pause, resume, reload
or stop on stdin. reload re-reads the content document after it was edited.

SIGINT and SIGTERM stop the scheduler after the post in progress, if any.

Example:
  agentcast run --agent zorp
  agentcast run --agent zorp --dry-run --interval 10s
  agentcast run --agent zorp --end-policy LOOP --no-interactive`,
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Duration("interval", 0, "Posting interval (overrides the tracker)")
	runCmd.Flags().String("end-policy", "", "What to do when posts run out: AUTO, LOOP or STOP")
	runCmd.Flags().Bool("dry-run", false, "Log posts instead of publishing them")
	runCmd.Flags().Bool("post-on-start", true, "Publish immediately when starting from the first post")
	runCmd.Flags().Bool("no-interactive", false, "Do not read control commands from stdin")

	_ = viper.BindPFlag("schedule.interval", runCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("schedule.end_policy", runCmd.Flags().Lookup("end-policy"))
	_ = viper.BindPFlag("schedule.dry_run", runCmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("schedule.post_on_start", runCmd.Flags().Lookup("post-on-start"))
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	live := cfg.Live()
	rt, err := newRuntime(ctx, cfg, live)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "Warning: cleanup failed:", err)
		}
	}()

	sched, err := scheduler.New(rt.manager, scheduler.Options{
		Interval:    rt.interval(),
		Live:        live,
		Policy:      scheduler.EndPolicy(cfg.Schedule.EndPolicy),
		PostOnStart: cfg.Schedule.PostOnStart,
		Logger:      rt.logger,
		OnNeedsContent: func(agent string) {
			rt.logger.Warningf("%s has published all of its content; add seasons to %s and run again", agent, rt.store.Path(agent))
		},
	})
	if err != nil {
		return err
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Posting for %s via %s every %s (%s, %d posts).\n",
		cfg.Agent, rt.manager.PublisherName(), rt.interval(), sched.Policy(), rt.manager.TotalPosts())
	if next, err := rt.manager.Peek(); err == nil && next.Found() {
		fmt.Fprintf(out, "Next up: %s\n", next.At.PostID())
	}
	noInteractive, _ := cmd.Flags().GetBool("no-interactive")
	if noInteractive {
		fmt.Fprintln(out, "Press Ctrl+C to stop.")
		select {
		case <-ctx.Done():
		case <-sched.Done():
		}
	} else {
		fmt.Fprintln(out, "Type help for commands.")
		controlLoop(ctx, cmd.InOrStdin(), out, runController{sched, rt.manager}, sched.Done())
	}

	sched.Stop()
	printSchedulerStatus(out, sched.Status())
	return nil
}
