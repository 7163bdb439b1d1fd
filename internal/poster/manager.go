// Package poster publishes an agent's posts one at a time, keeping the
// persisted cursor consistent with what has actually been published.
package poster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andywolf/agentcast/internal/content"
	"github.com/andywolf/agentcast/internal/cursor"
	"github.com/andywolf/agentcast/internal/logging"
	"github.com/andywolf/agentcast/internal/postlog"
	"github.com/andywolf/agentcast/internal/publisher"
)

// ErrPersistence wraps failures to write the cursor or the post log.
var ErrPersistence = errors.New("persistence failed")

// OutcomeKind classifies a PostNext call.
type OutcomeKind int

const (
	OutcomePublished OutcomeKind = iota + 1
	OutcomeDryRun
	OutcomePublishFailed
	OutcomeExhausted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePublished:
		return "published"
	case OutcomeDryRun:
		return "dry-run"
	case OutcomePublishFailed:
		return "publish-failed"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Outcome describes what PostNext did.
type Outcome struct {
	Kind OutcomeKind
	// At is the position that was attempted.
	At cursor.Cursor
	// Next is the cursor PostNext tried to persist.
	Next   cursor.Cursor
	PostID string
	Text   string
	Ack    publisher.Ack
	// Err is the publish error for OutcomePublishFailed.
	Err error
}

// Options configures a Manager.
type Options struct {
	Agent     string
	Store     content.Store
	Publisher publisher.Publisher
	// Log receives an entry per published post. Optional.
	Log    postlog.Log
	Logger *logging.Logger
	Now    func() time.Time
}

// Manager owns one agent's cursor. All operations are serialized.
type Manager struct {
	agent  string
	store  content.Store
	pub    publisher.Publisher
	log    postlog.Log
	logger *logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	doc       *content.Document
	committed cursor.Cursor
	stale     bool
}

// New loads the agent's document and returns a manager positioned at the
// persisted cursor.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Agent == "" {
		return nil, fmt.Errorf("poster: agent is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("poster: content store is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("poster: publisher is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		agent:  opts.Agent,
		store:  opts.Store,
		pub:    opts.Publisher,
		log:    opts.Log,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load(ctx context.Context) error {
	doc, err := m.store.Load(ctx, m.agent)
	if err != nil {
		return err
	}
	c := cursor.FromTracker(doc.Tracker)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: tracker: %w", content.ErrMalformed, err)
	}
	m.doc = doc
	m.committed = c
	m.stale = false
	return nil
}

func (m *Manager) reloadIfStale(ctx context.Context) error {
	if !m.stale {
		return nil
	}
	if err := m.load(ctx); err != nil {
		if errors.Is(err, content.ErrMalformed) {
			return err
		}
		return fmt.Errorf("%w: reloading %s: %w", ErrPersistence, m.agent, err)
	}
	m.logger.Infof("reloaded %s from disk, cursor at %s", m.agent, m.committed)
	return nil
}

// commit persists c. On failure the in-memory tracker is restored and the
// manager reloads from disk on its next call.
func (m *Manager) commit(ctx context.Context, c cursor.Cursor) error {
	prev := m.doc.Tracker
	c.Apply(&m.doc.Tracker)
	if err := m.store.Save(context.WithoutCancel(ctx), m.agent, m.doc); err != nil {
		m.doc.Tracker = prev
		m.stale = true
		return fmt.Errorf("%w: committing cursor %s: %w", ErrPersistence, c, err)
	}
	m.committed = c
	return nil
}

// PostNext publishes the next post, or logs it when live is false.
//
// Publish failures are reported through Outcome.Err with a nil error: the
// cursor is left on the failed post so the next call retries it. The error
// return is reserved for malformed content and persistence failures.
func (m *Manager) PostNext(ctx context.Context, live bool) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reloadIfStale(ctx); err != nil {
		return Outcome{}, err
	}

	res, err := cursor.Advance(m.doc, m.committed)
	if err != nil {
		return Outcome{}, fmt.Errorf("advancing %s from %s: %w", m.agent, m.committed, err)
	}

	if !res.Found() {
		out := Outcome{Kind: OutcomeExhausted, At: cursor.Exhausted, Next: cursor.Exhausted}
		if m.committed != cursor.Exhausted {
			if err := m.commit(ctx, cursor.Exhausted); err != nil {
				return out, err
			}
			m.logger.Infof("%s has no more posts", m.agent)
		}
		return out, nil
	}

	out := Outcome{
		At:     res.At,
		Next:   res.Next,
		PostID: res.At.PostID(),
		Text:   res.Post.Content,
	}

	if !live {
		out.Kind = OutcomeDryRun
		m.logger.LogWithLabels(logging.SeverityInfo,
			fmt.Sprintf("dry run, would have posted %s: %s", out.PostID, out.Text),
			map[string]string{"post_id": out.PostID, "mode": "dry-run"})
		if err := m.commit(ctx, res.Next); err != nil {
			return out, err
		}
		return out, nil
	}

	ack, pubErr := m.pub.Publish(ctx, out.Text)
	if pubErr != nil {
		out.Kind = OutcomePublishFailed
		out.Err = pubErr
		out.Next = res.Next.Retreat()
		m.logger.LogWithLabels(logging.SeverityError,
			fmt.Sprintf("publishing %s via %s failed: %v", out.PostID, m.pub.Name(), pubErr),
			map[string]string{"post_id": out.PostID, "publisher": m.pub.Name()})
		if out.Next != m.committed {
			if err := m.commit(ctx, out.Next); err != nil {
				return out, err
			}
		}
		return out, nil
	}

	out.Kind = OutcomePublished
	out.Ack = ack
	if err := m.commit(ctx, res.Next); err != nil {
		m.logger.Errorf("%s was published as %s but the cursor was not saved; it will be published again: %v", out.PostID, ack.ID, err)
		return out, err
	}
	m.logger.LogWithLabels(logging.SeverityInfo,
		fmt.Sprintf("posted %s: %s", out.PostID, out.Text),
		map[string]string{"post_id": out.PostID, "ack_id": ack.ID, "publisher": m.pub.Name()})

	if m.log != nil {
		at := ack.PublishedAt
		if at.IsZero() {
			at = m.now()
		}
		entry := postlog.NewEntry(m.agent, out.PostID, out.Text, at)
		entry.AckID = ack.ID
		entry.Publisher = m.pub.Name()
		if err := m.log.Append(context.WithoutCancel(ctx), entry); err != nil {
			return out, fmt.Errorf("%w: appending post log: %w", ErrPersistence, err)
		}
	}
	return out, nil
}

// Cursor returns the last durably committed cursor.
func (m *Manager) Cursor() cursor.Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// Reset moves the cursor to c, which must exist in the document. Exhausted
// and Start are always accepted.
func (m *Manager) Reset(ctx context.Context, c cursor.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reloadIfStale(ctx); err != nil {
		return err
	}
	if err := cursor.Locate(m.doc, c); err != nil {
		return err
	}
	from := m.committed
	if err := m.commit(ctx, c); err != nil {
		return err
	}
	m.logger.Infof("%s cursor reset from %s to %s", m.agent, from, c)
	return nil
}

// Reload discards in-memory state and reads the document again, picking up
// newly generated content.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx)
}

// Interval returns the posting interval from the tracker.
func (m *Manager) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	minutes := m.doc.Tracker.PostEveryXMinutes
	if minutes <= 0 {
		minutes = content.DefaultPostEveryMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Peek returns what the next PostNext would attempt without changing
// anything.
func (m *Manager) Peek() (cursor.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cursor.Advance(m.doc, m.committed)
}

// TotalPosts counts the posts in the loaded document.
func (m *Manager) TotalPosts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.CountPosts()
}

// Agent returns the agent name.
func (m *Manager) Agent() string {
	return m.agent
}

// PublisherName returns the configured publisher's name.
func (m *Manager) PublisherName() string {
	return m.pub.Name()
}
