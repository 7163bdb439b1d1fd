package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/andywolf/agentcast/internal/cursor"
	"github.com/andywolf/agentcast/internal/poster"
	"github.com/andywolf/agentcast/internal/publisher"
	"github.com/andywolf/agentcast/internal/scheduler"
)

type fakeController struct {
	calls    []string
	pauseErr error
	statusCh chan struct{}
}

func (f *fakeController) Status() scheduler.Status {
	f.calls = append(f.calls, "status")
	if f.statusCh != nil {
		f.statusCh <- struct{}{}
	}
	return scheduler.Status{
		State:    scheduler.StateRunning,
		Agent:    "zorp",
		Interval: 30 * time.Minute,
		Policy:   scheduler.PolicyAuto,
		Live:     true,
		Cursor:   cursor.Start(),
	}
}

func (f *fakeController) ForcePostNow(ctx context.Context) (poster.Outcome, error) {
	f.calls = append(f.calls, "post")
	return poster.Outcome{
		Kind:   poster.OutcomePublished,
		PostID: "s_1_e_1_p_1",
		Text:   "hello",
		Ack:    publisher.Ack{ID: "1", URL: "https://x.com/i/web/status/1"},
	}, nil
}

func (f *fakeController) Pause() error {
	f.calls = append(f.calls, "pause")
	return f.pauseErr
}

func (f *fakeController) Resume() error {
	f.calls = append(f.calls, "resume")
	return nil
}

func (f *fakeController) Reload(ctx context.Context) error {
	f.calls = append(f.calls, "reload")
	return nil
}

func TestParseControl(t *testing.T) {
	tests := []struct {
		input   string
		want    controlCommand
		wantErr bool
	}{
		{input: "status", want: cmdStatus},
		{input: "1", want: cmdStatus},
		{input: "  POST  ", want: cmdPost},
		{input: "2", want: cmdPost},
		{input: "pause", want: cmdPause},
		{input: "r", want: cmdResume},
		{input: "quit", want: cmdStop},
		{input: "exit", want: cmdStop},
		{input: "5", want: cmdStop},
		{input: "?", want: cmdHelp},
		{input: "reload", want: cmdReload},
		{input: "6", want: cmdReload},
		{input: "launch", wantErr: true},
		{input: "7", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseControl(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseControl(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseControl(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestControlLoop_StopCommand(t *testing.T) {
	c := &fakeController{pauseErr: errors.New("already paused")}
	in := strings.NewReader("status\n\npost\npause\nresume\nreload\nbogus\nstop\nstatus\n")
	var out bytes.Buffer
	done := make(chan struct{})
	defer close(done)

	controlLoop(context.Background(), in, &out, c, done)

	want := []string{"status", "post", "pause", "resume", "reload"}
	if strings.Join(c.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", c.calls, want)
	}

	got := out.String()
	for _, s := range []string{
		"Agent:      zorp",
		"published s_1_e_1_p_1 (https://x.com/i/web/status/1): hello",
		"pause: already paused",
		"resumed",
		"content reloaded",
		`unknown command "bogus"`,
		"stopping",
	} {
		if !strings.Contains(got, s) {
			t.Errorf("output missing %q:\n%s", s, got)
		}
	}
}

func TestControlLoop_EOFKeepsWaiting(t *testing.T) {
	c := &fakeController{statusCh: make(chan struct{}, 1)}
	done := make(chan struct{})
	var out bytes.Buffer

	returned := make(chan struct{})
	go func() {
		controlLoop(context.Background(), strings.NewReader("status\n"), &out, c, done)
		close(returned)
	}()

	<-c.statusCh
	select {
	case <-returned:
		t.Fatal("controlLoop returned at end of input")
	case <-time.After(50 * time.Millisecond):
	}

	close(done)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("controlLoop did not return after done was closed")
	}
}

func TestControlLoop_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	returned := make(chan struct{})
	go func() {
		controlLoop(ctx, strings.NewReader(""), &bytes.Buffer{}, &fakeController{}, make(chan struct{}))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("controlLoop did not return after cancel")
	}
}

func TestDescribeOutcome(t *testing.T) {
	tests := []struct {
		name string
		out  poster.Outcome
		want string
	}{
		{
			name: "published without url",
			out:  poster.Outcome{Kind: poster.OutcomePublished, PostID: "s_1_e_1_p_2", Text: "hi"},
			want: "published s_1_e_1_p_2: hi",
		},
		{
			name: "dry run",
			out:  poster.Outcome{Kind: poster.OutcomeDryRun, PostID: "s_1_e_1_p_1", Text: "hi"},
			want: "dry run, would have posted s_1_e_1_p_1: hi",
		},
		{
			name: "failed",
			out:  poster.Outcome{Kind: poster.OutcomePublishFailed, PostID: "s_1_e_1_p_1", Err: errors.New("boom")},
			want: "publishing s_1_e_1_p_1 failed, will retry: boom",
		},
		{
			name: "exhausted",
			out:  poster.Outcome{Kind: poster.OutcomeExhausted},
			want: "no more posts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeOutcome(tt.out); got != tt.want {
				t.Errorf("describeOutcome() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintSchedulerStatus(t *testing.T) {
	var out bytes.Buffer
	printSchedulerStatus(&out, scheduler.Status{
		State:       scheduler.StatePaused,
		Agent:       "zorp",
		Interval:    time.Minute,
		Policy:      scheduler.PolicyLoop,
		Cursor:      cursor.Exhausted,
		LastOutcome: poster.OutcomePublishFailed,
		LastPostID:  "s_2_e_1_p_1",
		LastError:   "rate limited",
		LastTick:    time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC),
		Ticks:       4,
		Published:   2,
		Failed:      1,
		Skipped:     1,
	})

	got := out.String()
	for _, s := range []string{
		"(dry-run)",
		"End policy: LOOP",
		"Cursor:     exhausted",
		"Ticks:      4 (2 posted, 1 failed, 1 skipped while paused)",
		"Last tick:  2024-06-15T14:30:00Z, publish-failed s_2_e_1_p_1",
		"Last error: rate limited",
	} {
		if !strings.Contains(got, s) {
			t.Errorf("output missing %q:\n%s", s, got)
		}
	}
}
