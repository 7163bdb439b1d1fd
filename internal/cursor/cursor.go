// Package cursor tracks the position of the next post to publish inside an
// agent's season/episode/post hierarchy and computes how it moves forward.
//
// Cursor values carry 0-based indices only. The 1-based numbers shown to
// operators are produced by String and PostID and are never stored.
package cursor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andywolf/agentcast/internal/content"
)

// ErrInvalidCursor reports a cursor with a negative index that is not the
// exhausted sentinel.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor points at the next post to attempt.
type Cursor struct {
	Season  int
	Episode int
	Post    int
}

// Exhausted is the terminal cursor: no queued content remains.
var Exhausted = Cursor{Season: -1, Episode: -1, Post: -1}

// Start returns the cursor for the first post of the first season.
func Start() Cursor {
	return Cursor{}
}

// IsExhausted reports whether c is the terminal sentinel.
func (c Cursor) IsExhausted() bool {
	return c == Exhausted
}

// Validate rejects negative indices other than the sentinel.
func (c Cursor) Validate() error {
	if c.IsExhausted() {
		return nil
	}
	if c.Season < 0 || c.Episode < 0 || c.Post < 0 {
		return fmt.Errorf("%w: %d/%d/%d", ErrInvalidCursor, c.Season, c.Episode, c.Post)
	}
	return nil
}

// Retreat steps back one post within the current episode.
func (c Cursor) Retreat() Cursor {
	if c.IsExhausted() || c.Post == 0 {
		return c
	}
	c.Post--
	return c
}

// String renders the cursor for operators, e.g. "season 1, episode 2, post 3".
func (c Cursor) String() string {
	if c.IsExhausted() {
		return "exhausted"
	}
	return fmt.Sprintf("season %d, episode %d, post %d", c.Season+1, c.Episode+1, c.Post+1)
}

// PostID is the post log identifier for the post at c, e.g. "s_1_e_2_p_3".
func (c Cursor) PostID() string {
	if c.IsExhausted() {
		return "exhausted"
	}
	return fmt.Sprintf("s_%d_e_%d_p_%d", c.Season+1, c.Episode+1, c.Post+1)
}

// ParsePostID is the inverse of PostID.
func ParsePostID(id string) (Cursor, error) {
	var s, e, p int
	if _, err := fmt.Sscanf(strings.TrimSpace(id), "s_%d_e_%d_p_%d", &s, &e, &p); err != nil {
		return Cursor{}, fmt.Errorf("invalid post id %q: %w", id, err)
	}
	c := Cursor{Season: s - 1, Episode: e - 1, Post: p - 1}
	if err := c.Validate(); err != nil {
		return Cursor{}, err
	}
	return c, nil
}

// FromTracker reads the persisted cursor.
func FromTracker(t content.Tracker) Cursor {
	return Cursor{Season: t.CurrentSeason, Episode: t.CurrentEpisode, Post: t.CurrentPost}
}

// Apply writes c into the tracker record.
func (c Cursor) Apply(t *content.Tracker) {
	t.CurrentSeason = c.Season
	t.CurrentEpisode = c.Episode
	t.CurrentPost = c.Post
}
