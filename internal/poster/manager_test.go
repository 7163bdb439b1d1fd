package poster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/andywolf/agentcast/internal/content"
	"github.com/andywolf/agentcast/internal/cursor"
	"github.com/andywolf/agentcast/internal/postlog"
	"github.com/andywolf/agentcast/internal/publisher"
)

// memStore keeps the season tree in memory and persists only the tracker,
// which is what a FileStore round trip preserves.
type memStore struct {
	mu        sync.Mutex
	seasons   []content.Season
	tracker   content.Tracker
	saves     int
	loads     int
	failSaves int
}

func newMemStore(seasons []content.Season) *memStore {
	return &memStore{
		seasons: seasons,
		tracker: content.Tracker{PostEveryXMinutes: 30},
	}
}

func (s *memStore) Load(ctx context.Context, agent string) (*content.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	doc := content.NewDocument(s.seasons)
	doc.Tracker = s.tracker
	return doc, nil
}

func (s *memStore) Save(ctx context.Context, agent string, doc *content.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves > 0 {
		s.failSaves--
		return errors.New("disk full")
	}
	s.saves++
	s.tracker = doc.Tracker
	return nil
}

func (s *memStore) persisted() cursor.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cursor.FromTracker(s.tracker)
}

type fakePublisher struct {
	mu       sync.Mutex
	texts    []string
	failNext int
	calls    int
}

func (p *fakePublisher) Publish(ctx context.Context, text string) (publisher.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failNext > 0 {
		p.failNext--
		return publisher.Ack{}, fmt.Errorf("%w: status 503", errors.New("server error"))
	}
	p.texts = append(p.texts, text)
	return publisher.Ack{ID: fmt.Sprintf("ack-%d", len(p.texts))}, nil
}

func (p *fakePublisher) Name() string { return "fake" }

type memLog struct {
	entries []postlog.Entry
	fail    bool
}

func (l *memLog) Append(ctx context.Context, e postlog.Entry) error {
	if l.fail {
		return errors.New("log unavailable")
	}
	l.entries = append(l.entries, e)
	return nil
}

func (l *memLog) Recent(ctx context.Context, agent string, limit int) ([]postlog.Entry, error) {
	return l.entries, nil
}

func (l *memLog) Close() error { return nil }

func posts(texts ...string) []content.Post {
	out := make([]content.Post, 0, len(texts))
	for i, t := range texts {
		out = append(out, content.Post{PostNumber: i + 1, Content: t})
	}
	return out
}

// twoSeasons is season 1: episode 1 {a, b}; season 2: episode 1 {c}.
func twoSeasons() []content.Season {
	return []content.Season{
		{SeasonNumber: 1, Episodes: []content.Episode{{EpisodeNumber: 1, Posts: posts("a", "b")}}},
		{SeasonNumber: 2, Episodes: []content.Episode{{EpisodeNumber: 1, Posts: posts("c")}}},
	}
}

func newTestManager(t *testing.T, store content.Store, pub publisher.Publisher, log postlog.Log) *Manager {
	t.Helper()
	m, err := New(context.Background(), Options{
		Agent:     "zorp",
		Store:     store,
		Publisher: pub,
		Log:       log,
		Now:       func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestPostNext_RolloverAndExhaustion(t *testing.T) {
	store := newMemStore(twoSeasons())
	pub := &fakePublisher{}
	log := &memLog{}
	m := newTestManager(t, store, pub, log)
	ctx := context.Background()

	steps := []struct {
		at, next cursor.Cursor
		postID   string
		text     string
	}{
		{cursor.Cursor{0, 0, 0}, cursor.Cursor{0, 0, 1}, "s_1_e_1_p_1", "a"},
		{cursor.Cursor{0, 0, 1}, cursor.Cursor{0, 0, 2}, "s_1_e_1_p_2", "b"},
		{cursor.Cursor{1, 0, 0}, cursor.Cursor{1, 0, 1}, "s_2_e_1_p_1", "c"},
	}
	for i, step := range steps {
		out, err := m.PostNext(ctx, true)
		if err != nil {
			t.Fatalf("step %d: PostNext() error = %v", i, err)
		}
		if out.Kind != OutcomePublished || out.At != step.at || out.Next != step.next || out.PostID != step.postID || out.Text != step.text {
			t.Errorf("step %d: outcome = %+v", i, out)
		}
		if got := store.persisted(); got != step.next {
			t.Errorf("step %d: persisted = %v, want %v", i, got, step.next)
		}
	}

	out, err := m.PostNext(ctx, true)
	if err != nil {
		t.Fatalf("PostNext() at end error = %v", err)
	}
	if out.Kind != OutcomeExhausted || m.Cursor() != cursor.Exhausted || store.persisted() != cursor.Exhausted {
		t.Errorf("expected exhaustion, got %+v cursor %v", out, m.Cursor())
	}

	if diff := cmp.Diff([]string{"a", "b", "c"}, pub.texts); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
	var ids []string
	for _, e := range log.entries {
		ids = append(ids, e.PostID)
		if e.Agent != "zorp" || e.Publisher != "fake" || e.AckID == "" || e.ID == "" {
			t.Errorf("incomplete log entry %+v", e)
		}
	}
	if diff := cmp.Diff([]string{"s_1_e_1_p_1", "s_1_e_1_p_2", "s_2_e_1_p_1"}, ids); diff != "" {
		t.Errorf("log post ids mismatch (-want +got):\n%s", diff)
	}
}

func TestPostNext_SentinelIsStable(t *testing.T) {
	store := newMemStore(twoSeasons())
	store.tracker = content.Tracker{CurrentSeason: -1, CurrentEpisode: -1, CurrentPost: -1, PostEveryXMinutes: 30}
	pub := &fakePublisher{}
	m := newTestManager(t, store, pub, nil)

	for i := 0; i < 3; i++ {
		out, err := m.PostNext(context.Background(), true)
		if err != nil {
			t.Fatalf("PostNext() error = %v", err)
		}
		if out.Kind != OutcomeExhausted {
			t.Errorf("Kind = %v, want exhausted", out.Kind)
		}
	}
	if pub.calls != 0 {
		t.Errorf("publisher called %d times", pub.calls)
	}
	if store.saves != 0 {
		t.Errorf("store saved %d times at the sentinel", store.saves)
	}
}

func TestPostNext_FailedPublishDoesNotSkip(t *testing.T) {
	store := newMemStore(twoSeasons())
	pub := &fakePublisher{}
	log := &memLog{}
	m := newTestManager(t, store, pub, log)
	ctx := context.Background()

	if _, err := m.PostNext(ctx, true); err != nil {
		t.Fatal(err)
	}

	pub.failNext = 1
	out, err := m.PostNext(ctx, true)
	if err != nil {
		t.Fatalf("PostNext() error = %v, publish failures are outcomes", err)
	}
	if out.Kind != OutcomePublishFailed || out.Err == nil {
		t.Fatalf("outcome = %+v", out)
	}
	want := cursor.Cursor{0, 0, 1}
	if out.At != want || out.Next != want || m.Cursor() != want || store.persisted() != want {
		t.Errorf("cursor moved after failure: out=%+v mem=%v disk=%v", out, m.Cursor(), store.persisted())
	}

	out, err = m.PostNext(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != OutcomePublished || out.Text != "b" {
		t.Errorf("retry outcome = %+v, want b published", out)
	}
	if len(log.entries) != 2 {
		t.Errorf("log entries = %d, failed publish must not be logged", len(log.entries))
	}
}

func TestPostNext_RollbackNormalizesOverflow(t *testing.T) {
	store := newMemStore(twoSeasons())
	store.tracker.CurrentPost = 2 // past the end of season 1 episode 1
	pub := &fakePublisher{failNext: 1}
	m := newTestManager(t, store, pub, nil)

	out, err := m.PostNext(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	want := cursor.Cursor{1, 0, 0}
	if out.Kind != OutcomePublishFailed || store.persisted() != want {
		t.Errorf("outcome %+v persisted %v, want rollback to %v", out, store.persisted(), want)
	}
}

func TestPostNext_DryRun(t *testing.T) {
	store := newMemStore(twoSeasons())
	pub := &fakePublisher{}
	log := &memLog{}
	m := newTestManager(t, store, pub, log)

	out, err := m.PostNext(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != OutcomeDryRun || out.Text != "a" {
		t.Errorf("outcome = %+v", out)
	}
	if pub.calls != 0 || len(log.entries) != 0 {
		t.Errorf("dry run published %d times, logged %d", pub.calls, len(log.entries))
	}
	if store.persisted() != (cursor.Cursor{0, 0, 1}) {
		t.Errorf("dry run should advance the cursor, persisted %v", store.persisted())
	}
}

func TestPostNext_CommitFailureRepublishesAfterReload(t *testing.T) {
	store := newMemStore(twoSeasons())
	pub := &fakePublisher{}
	m := newTestManager(t, store, pub, nil)
	ctx := context.Background()

	store.failSaves = 1
	out, err := m.PostNext(ctx, true)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("PostNext() error = %v, want ErrPersistence", err)
	}
	if out.Kind != OutcomePublished {
		t.Errorf("Kind = %v, the post did go out", out.Kind)
	}
	if m.Cursor() != cursor.Start() || store.persisted() != cursor.Start() {
		t.Errorf("cursor = %v disk = %v, want last durable value", m.Cursor(), store.persisted())
	}

	loads := store.loads
	out, err = m.PostNext(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if store.loads != loads+1 {
		t.Errorf("manager did not reload after a failed commit")
	}
	if out.At != cursor.Start() || out.Text != "a" {
		t.Errorf("after reload outcome = %+v, want a republished", out)
	}
	if diff := cmp.Diff([]string{"a", "a"}, pub.texts); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestPostNext_CrashBeforeCommitRepublishes(t *testing.T) {
	store := newMemStore(twoSeasons())
	store.failSaves = 1
	first := newTestManager(t, store, &fakePublisher{}, nil)
	if _, err := first.PostNext(context.Background(), true); !errors.Is(err, ErrPersistence) {
		t.Fatalf("PostNext() error = %v", err)
	}

	// A fresh process reads what is on disk.
	pub := &fakePublisher{}
	second := newTestManager(t, store, pub, nil)
	out, err := second.PostNext(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if out.At != cursor.Start() || out.Text != "a" {
		t.Errorf("outcome = %+v, want the uncommitted post again", out)
	}
}

func TestPostNext_PostLogFailure(t *testing.T) {
	store := newMemStore(twoSeasons())
	m := newTestManager(t, store, &fakePublisher{}, &memLog{fail: true})

	_, err := m.PostNext(context.Background(), true)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("PostNext() error = %v, want ErrPersistence", err)
	}
	if store.persisted() != (cursor.Cursor{0, 0, 1}) {
		t.Errorf("cursor should be committed before the log append, persisted %v", store.persisted())
	}
}

func TestPostNext_SkipsEmptyContainers(t *testing.T) {
	seasons := []content.Season{
		{SeasonNumber: 1, Episodes: []content.Episode{
			{EpisodeNumber: 1, Posts: posts("a")},
			{EpisodeNumber: 2, Posts: []content.Post{}},
			{EpisodeNumber: 3, Posts: posts("b")},
		}},
		{SeasonNumber: 2, Episodes: []content.Episode{}},
		{SeasonNumber: 3, SeasonPosted: true, Episodes: []content.Episode{{Posts: posts("old")}}},
		{SeasonNumber: 4, Episodes: []content.Episode{{Posts: posts("c")}}},
	}
	pub := &fakePublisher{}
	m := newTestManager(t, newMemStore(seasons), pub, nil)

	for i := 0; i < 4; i++ {
		if _, err := m.PostNext(context.Background(), true); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, pub.texts); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
	if m.Cursor() != cursor.Exhausted {
		t.Errorf("cursor = %v, want exhausted", m.Cursor())
	}
}

func TestPostNext_Malformed(t *testing.T) {
	seasons := []content.Season{
		{Episodes: []content.Episode{{Posts: []content.Post{{Content: "  "}}}}},
	}
	pub := &fakePublisher{}
	store := newMemStore(seasons)
	m := newTestManager(t, store, pub, nil)

	_, err := m.PostNext(context.Background(), true)
	if !errors.Is(err, content.ErrMalformed) {
		t.Fatalf("PostNext() error = %v, want ErrMalformed", err)
	}
	if pub.calls != 0 || store.saves != 0 {
		t.Errorf("malformed content published %d times, saved %d", pub.calls, store.saves)
	}
}

func TestNew_RejectsInvalidTracker(t *testing.T) {
	store := newMemStore(twoSeasons())
	store.tracker.CurrentSeason = -1
	_, err := New(context.Background(), Options{Agent: "zorp", Store: store, Publisher: &fakePublisher{}})
	if !errors.Is(err, content.ErrMalformed) {
		t.Errorf("New() error = %v, want ErrMalformed", err)
	}
}

func TestReset(t *testing.T) {
	store := newMemStore(twoSeasons())
	m := newTestManager(t, store, &fakePublisher{}, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		target  cursor.Cursor
		wantErr bool
	}{
		{name: "second season", target: cursor.Cursor{1, 0, 0}},
		{name: "exhausted", target: cursor.Exhausted},
		{name: "start", target: cursor.Start()},
		{name: "missing season", target: cursor.Cursor{5, 0, 0}, wantErr: true},
		{name: "negative", target: cursor.Cursor{0, -1, 0}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := store.persisted()
			err := m.Reset(ctx, tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reset() error = %v, wantErr %v", err, tt.wantErr)
			}
			want := tt.target
			if tt.wantErr {
				want = before
			}
			if store.persisted() != want || m.Cursor() != want {
				t.Errorf("cursor = %v disk = %v, want %v", m.Cursor(), store.persisted(), want)
			}
		})
	}
}

func TestManager_Accessors(t *testing.T) {
	store := newMemStore(twoSeasons())
	store.tracker.PostEveryXMinutes = 0
	m := newTestManager(t, store, &fakePublisher{}, nil)

	if m.Interval() != 30*time.Minute {
		t.Errorf("Interval() = %v, want default 30m", m.Interval())
	}
	if m.TotalPosts() != 3 || m.Agent() != "zorp" || m.PublisherName() != "fake" {
		t.Errorf("TotalPosts=%d Agent=%q Publisher=%q", m.TotalPosts(), m.Agent(), m.PublisherName())
	}
	res, err := m.Peek()
	if err != nil || res.Post.Content != "a" {
		t.Errorf("Peek() = %+v, %v", res, err)
	}
	if m.Cursor() != cursor.Start() {
		t.Error("Peek() must not move the cursor")
	}

	store.seasons = append(store.seasons, content.Season{Episodes: []content.Episode{{Posts: posts("d")}}})
	if err := m.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.TotalPosts() != 4 {
		t.Errorf("TotalPosts() after Reload = %d", m.TotalPosts())
	}
}

func TestOutcomeKind_String(t *testing.T) {
	for kind, want := range map[OutcomeKind]string{
		OutcomePublished:     "published",
		OutcomeDryRun:        "dry-run",
		OutcomePublishFailed: "publish-failed",
		OutcomeExhausted:     "exhausted",
		OutcomeKind(0):       "unknown",
	} {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
