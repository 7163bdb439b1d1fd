package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/andywolf/agentcast/internal/poster"
	"github.com/andywolf/agentcast/internal/scheduler"
)

// controlCommand is one operator command typed while `run` is active.
type controlCommand string

const (
	cmdStatus controlCommand = "status"
	cmdPost   controlCommand = "post"
	cmdPause  controlCommand = "pause"
	cmdResume controlCommand = "resume"
	cmdStop   controlCommand = "stop"
	cmdReload controlCommand = "reload"
	cmdHelp   controlCommand = "help"
)

var controlAliases = map[string]controlCommand{
	"status": cmdStatus, "s": cmdStatus, "1": cmdStatus,
	"post": cmdPost, "p": cmdPost, "2": cmdPost,
	"pause": cmdPause, "3": cmdPause,
	"resume": cmdResume, "r": cmdResume, "4": cmdResume,
	"stop": cmdStop, "exit": cmdStop, "quit": cmdStop, "q": cmdStop, "5": cmdStop,
	"reload": cmdReload, "6": cmdReload,
	"help": cmdHelp, "h": cmdHelp, "?": cmdHelp,
}

const controlHelp = `Commands:
  1 status   show scheduler status
  2 post     publish the next post now
  3 pause    pause scheduled posting
  4 resume   resume scheduled posting
  5 stop     stop and exit
  6 reload   re-read the content document
`

func parseControl(line string) (controlCommand, error) {
	word := strings.ToLower(strings.TrimSpace(line))
	if cmd, ok := controlAliases[word]; ok {
		return cmd, nil
	}
	return "", fmt.Errorf("unknown command %q (type help)", word)
}

// controller is the part of the scheduler the control loop drives.
type controller interface {
	Status() scheduler.Status
	ForcePostNow(ctx context.Context) (poster.Outcome, error)
	Pause() error
	Resume() error
	Reload(ctx context.Context) error
}

// controlLoop reads commands from in until stop is typed, ctx is done or
// done is closed. End of input only stops reading; the scheduler keeps
// running.
func controlLoop(ctx context.Context, in io.Reader, out io.Writer, c controller, done <-chan struct{}) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if handleControl(ctx, line, out, c) {
				return
			}
		}
	}
}

// handleControl runs one command and reports whether the loop should end.
func handleControl(ctx context.Context, line string, out io.Writer, c controller) bool {
	cmd, err := parseControl(line)
	if err != nil {
		fmt.Fprintln(out, err)
		return false
	}

	switch cmd {
	case cmdStatus:
		printSchedulerStatus(out, c.Status())
	case cmdPost:
		o, err := c.ForcePostNow(ctx)
		if err != nil {
			fmt.Fprintf(out, "post failed: %v\n", err)
			return false
		}
		fmt.Fprintln(out, describeOutcome(o))
	case cmdPause:
		if err := c.Pause(); err != nil {
			fmt.Fprintf(out, "pause: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "paused")
	case cmdResume:
		if err := c.Resume(); err != nil {
			fmt.Fprintf(out, "resume: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "resumed")
	case cmdStop:
		fmt.Fprintln(out, "stopping")
		return true
	case cmdReload:
		if err := c.Reload(ctx); err != nil {
			fmt.Fprintf(out, "reload: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "content reloaded")
	case cmdHelp:
		fmt.Fprint(out, controlHelp)
	}
	return false
}

func describeOutcome(o poster.Outcome) string {
	switch o.Kind {
	case poster.OutcomePublished:
		if o.Ack.URL != "" {
			return fmt.Sprintf("published %s (%s): %s", o.PostID, o.Ack.URL, o.Text)
		}
		return fmt.Sprintf("published %s: %s", o.PostID, o.Text)
	case poster.OutcomeDryRun:
		return fmt.Sprintf("dry run, would have posted %s: %s", o.PostID, o.Text)
	case poster.OutcomePublishFailed:
		return fmt.Sprintf("publishing %s failed, will retry: %v", o.PostID, o.Err)
	case poster.OutcomeExhausted:
		return "no more posts"
	default:
		return o.Kind.String()
	}
}

func printSchedulerStatus(w io.Writer, st scheduler.Status) {
	mode := "live"
	if !st.Live {
		mode = "dry-run"
	}
	fmt.Fprintf(w, "Agent:      %s\n", st.Agent)
	fmt.Fprintf(w, "State:      %s (%s)\n", st.State, mode)
	fmt.Fprintf(w, "Interval:   %s\n", st.Interval)
	fmt.Fprintf(w, "End policy: %s\n", st.Policy)
	fmt.Fprintf(w, "Cursor:     %s\n", st.Cursor)
	fmt.Fprintf(w, "Ticks:      %d (%d posted, %d failed, %d skipped while paused)\n", st.Ticks, st.Published, st.Failed, st.Skipped)
	if !st.LastTick.IsZero() {
		fmt.Fprintf(w, "Last tick:  %s, %s %s\n", st.LastTick.Format(time.RFC3339), st.LastOutcome, st.LastPostID)
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", st.LastError)
	}
}
