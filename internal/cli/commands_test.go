package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/andywolf/agentcast/internal/cli/wizard"
	"github.com/andywolf/agentcast/internal/content"
	"github.com/andywolf/agentcast/internal/cursor"
	"github.com/andywolf/agentcast/internal/postlog"
)

func sampleDocument() *content.Document {
	return content.NewDocument([]content.Season{
		{
			SeasonNumber: 1,
			Episodes: []content.Episode{
				{EpisodeNumber: 1, Posts: []content.Post{
					{PostNumber: 1, Content: "first  post\nof the season"},
					{PostNumber: 2, Content: "second post"},
				}},
			},
		},
	})
}

func TestPrintEntries(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)
	entries := []postlog.Entry{
		{ID: "a", PostID: "s_1_e_1_p_1", Agent: "zorp", Content: "hello world", Timestamp: ts, Publisher: "twitter", AckID: "1"},
		{ID: "b", PostID: "s_1_e_1_p_2", Agent: "zorp", Content: strings.Repeat("x", 100), Timestamp: ts.Add(time.Minute), Publisher: "twitter"},
	}

	t.Run("empty", func(t *testing.T) {
		var out bytes.Buffer
		if err := printEntries(&out, nil, false); err != nil {
			t.Fatal(err)
		}
		if got := out.String(); got != "No posts published yet.\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("table", func(t *testing.T) {
		var out bytes.Buffer
		if err := printEntries(&out, entries, false); err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		if len(lines) != 4 {
			t.Fatalf("got %d lines, want 4:\n%s", len(lines), out.String())
		}
		if !strings.Contains(lines[2], "2024-06-15 14:30:45") || !strings.Contains(lines[2], "hello world") {
			t.Errorf("unexpected row %q", lines[2])
		}
		if !strings.HasSuffix(lines[3], "...") {
			t.Errorf("long content not truncated: %q", lines[3])
		}
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		if err := printEntries(&out, entries, true); err != nil {
			t.Fatal(err)
		}
		var got []postlog.Entry
		dec := json.NewDecoder(&out)
		for dec.More() {
			var e postlog.Entry
			if err := dec.Decode(&e); err != nil {
				t.Fatal(err)
			}
			got = append(got, e)
		}
		if diff := cmp.Diff(entries, got); diff != "" {
			t.Errorf("entries mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestPrintDocumentStatus(t *testing.T) {
	doc := sampleDocument()

	var out bytes.Buffer
	last := &postlog.Entry{PostID: "s_1_e_1_p_1", Timestamp: time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC), Publisher: "twitter", AckID: "42"}
	if err := printDocumentStatus(&out, "zorp", "configs/zorp/zorp_master.json", doc, last); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, s := range []string{
		"Seasons:   1 (2 posts)",
		"Interval:  every 30 minutes",
		"Cursor:    season 1, episode 1, post 1",
		"Next post: s_1_e_1_p_1",
		"first post of the season",
		"Last post: s_1_e_1_p_1 at 2024-06-15 14:30:00 UTC (twitter 42)",
	} {
		if !strings.Contains(got, s) {
			t.Errorf("output missing %q:\n%s", s, got)
		}
	}

	doc.Tracker.CurrentSeason, doc.Tracker.CurrentEpisode, doc.Tracker.CurrentPost = -1, -1, -1
	out.Reset()
	if err := printDocumentStatus(&out, "zorp", "p", doc, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Next post: none, content exhausted") {
		t.Errorf("exhausted document not reported:\n%s", out.String())
	}
	if strings.Contains(out.String(), "Last post:") {
		t.Errorf("unexpected last post line:\n%s", out.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 10, want: "short"},
		{in: "a  b\n c", n: 10, want: "a b c"},
		{in: "abcdefghij", n: 8, want: "abcde..."},
		{in: "ééééé", n: 4, want: "é..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestParseResetTarget(t *testing.T) {
	tests := []struct {
		arg     string
		want    cursor.Cursor
		wantErr bool
	}{
		{arg: "", want: cursor.Start()},
		{arg: "start", want: cursor.Start()},
		{arg: "Exhausted", want: cursor.Exhausted},
		{arg: "end", want: cursor.Exhausted},
		{arg: "s_2_e_3_p_4", want: cursor.Cursor{Season: 1, Episode: 2, Post: 3}},
		{arg: "season two", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseResetTarget(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseResetTarget(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseResetTarget(%q) = %v, want %v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestWriteProjectConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".agentcast.yaml")
	cfg := newProjectConfig(&wizard.InitAnswers{
		Agent:     "zorp",
		Format:    "yaml",
		Minutes:   60,
		Publisher: "dry-run",
		EndPolicy: "LOOP",
	}, "configs")

	if err := writeProjectConfig(path, cfg, false); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"agent":   "zorp",
		"content": map[string]any{"dir": "configs", "format": "yaml"},
		"schedule": map[string]any{
			"end_policy": "LOOP",
			"dry_run":    true,
		},
		"publisher": map[string]any{
			"kind":    "dry-run",
			"twitter": map[string]any{"token_env": "X_BEARER_TOKEN"},
			"webhook": map[string]any{"secret_env": "AGENTCAST_WEBHOOK_SECRET"},
		},
		"postlog": map[string]any{"backend": "file"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	if err := writeProjectConfig(path, cfg, false); err == nil {
		t.Error("expected error when config exists without force")
	}
	if err := writeProjectConfig(path, cfg, true); err != nil {
		t.Errorf("force overwrite failed: %v", err)
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "", want: time.Time{}},
		{in: "24h", want: now.Add(-24 * time.Hour)},
		{in: "90m", want: now.Add(-90 * time.Minute)},
		{in: "2024-06-01T00:00:00Z", want: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{in: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSince(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSince(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseSince(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterSince(t *testing.T) {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	var entries []postlog.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, postlog.Entry{PostID: cursor.Cursor{Post: i}.PostID(), Timestamp: base.Add(time.Duration(i) * time.Hour)})
	}

	ids := func(es []postlog.Entry) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.PostID)
		}
		return out
	}

	got := ids(filterSince(entries, base.Add(2*time.Hour), 0))
	if diff := cmp.Diff([]string{"s_1_e_1_p_3", "s_1_e_1_p_4", "s_1_e_1_p_5"}, got); diff != "" {
		t.Errorf("since only (-want +got):\n%s", diff)
	}

	got = ids(filterSince(entries, base.Add(2*time.Hour), 2))
	if diff := cmp.Diff([]string{"s_1_e_1_p_4", "s_1_e_1_p_5"}, got); diff != "" {
		t.Errorf("since with tail (-want +got):\n%s", diff)
	}

	if got := filterSince(entries, base.Add(10*time.Hour), 0); len(got) != 0 {
		t.Errorf("expected no entries, got %d", len(got))
	}
}

func TestHelpTextWidth(t *testing.T) {
	for _, cmd := range rootCmd.Commands() {
		for i, line := range strings.Split(cmd.Long, "\n") {
			if len(line) > 80 {
				t.Errorf("%s help line %d is %d columns: %q", cmd.Name(), i+1, len(line), line)
			}
		}
	}
}

func TestRunHelpListsControls(t *testing.T) {
	for _, word := range []string{"status", "post", "pause", "resume", "reload", "stop"} {
		if !strings.Contains(runCmd.Long, word) {
			t.Errorf("run help does not mention %q", word)
		}
	}
}
