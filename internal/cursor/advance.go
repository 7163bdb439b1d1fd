package cursor

import (
	"fmt"
	"strings"

	"github.com/andywolf/agentcast/internal/content"
)

// Result is the outcome of Advance.
type Result struct {
	// At is the position of Post. It equals Next.Retreat() when a post was found.
	At Cursor
	// Next is the cursor to persist after At has been published.
	Next Cursor
	// Post is the content to publish; zero when Next is Exhausted.
	Post content.Post
}

// Found reports whether Advance located a post.
func (r Result) Found() bool {
	return !r.Next.IsExhausted()
}

// Advance locates the post at or after c and the cursor that follows it.
//
// Overflowing post indices roll to the next episode, overflowing episodes to
// the next season; empty episodes and seasons, and seasons already marked as
// posted, are skipped. Running past the last season yields Exhausted with no
// post. The document is only read.
func Advance(doc *content.Document, c Cursor) (Result, error) {
	if c.IsExhausted() {
		return Result{At: Exhausted, Next: Exhausted}, nil
	}
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	if doc == nil || doc.Seasons == nil {
		return Result{}, fmt.Errorf("%w: missing seasons", content.ErrMalformed)
	}

	s, e, p := c.Season, c.Episode, c.Post
	for s < len(doc.Seasons) {
		season := doc.Seasons[s]
		if season.SeasonPosted {
			s, e, p = s+1, 0, 0
			continue
		}
		if season.Episodes == nil {
			return Result{}, fmt.Errorf("%w: season %d: missing episodes", content.ErrMalformed, s+1)
		}
		if e >= len(season.Episodes) {
			s, e, p = s+1, 0, 0
			continue
		}
		episode := season.Episodes[e]
		if episode.Posts == nil {
			return Result{}, fmt.Errorf("%w: season %d episode %d: missing posts", content.ErrMalformed, s+1, e+1)
		}
		if p >= len(episode.Posts) {
			e, p = e+1, 0
			continue
		}

		post := episode.Posts[p]
		if strings.TrimSpace(post.Content) == "" {
			return Result{}, fmt.Errorf("%w: season %d episode %d post %d: empty post_content", content.ErrMalformed, s+1, e+1, p+1)
		}
		at := Cursor{Season: s, Episode: e, Post: p}
		return Result{
			At:   at,
			Next: Cursor{Season: s, Episode: e, Post: p + 1},
			Post: post,
		}, nil
	}

	return Result{At: Exhausted, Next: Exhausted}, nil
}

// Locate checks that c names an existing position (or the sentinel) in doc.
// A post index equal to the episode length is accepted: it is where the
// cursor sits after the last post of an episode.
func Locate(doc *content.Document, c Cursor) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.IsExhausted() || c == Start() {
		return nil
	}
	season, ok := doc.Season(c.Season)
	if !ok {
		return fmt.Errorf("%w: season %d does not exist", ErrInvalidCursor, c.Season+1)
	}
	if c.Episode > len(season.Episodes) || (c.Episode == len(season.Episodes) && c.Post != 0) {
		return fmt.Errorf("%w: season %d has no episode %d", ErrInvalidCursor, c.Season+1, c.Episode+1)
	}
	if c.Episode < len(season.Episodes) && c.Post > len(season.Episodes[c.Episode].Posts) {
		return fmt.Errorf("%w: season %d episode %d has no post %d", ErrInvalidCursor, c.Season+1, c.Episode+1, c.Post+1)
	}
	return nil
}
