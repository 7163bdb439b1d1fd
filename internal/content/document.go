// Package content models an agent's master document: the season, episode and
// post hierarchy produced by the content pipeline, plus the tracker record
// that stores the posting cursor.
package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed reports a document whose structure does not match the
	// season/episode/post layout. It is a configuration error and is never
	// retried.
	ErrMalformed = errors.New("content malformed")

	// ErrNotFound reports a missing agent document.
	ErrNotFound = errors.New("content not found")
)

// DefaultPostEveryMinutes is the posting interval written into new trackers.
const DefaultPostEveryMinutes = 30

// Tracker is the persisted cursor plus scheduling configuration. The three
// position fields are 0-based indices; display numbering is never stored.
type Tracker struct {
	CurrentSeason     int `json:"current_season_number"`
	CurrentEpisode    int `json:"current_episode_number"`
	CurrentPost       int `json:"current_post_number"`
	PostEveryXMinutes int `json:"post_every_x_minutes"`
}

// Post is a single generated social post.
type Post struct {
	PostNumber int    `json:"post_number,omitempty"`
	Content    string `json:"post_content"`
}

// Episode groups posts. A nil Posts slice means the key was missing.
type Episode struct {
	EpisodeNumber int    `json:"episode_number"`
	EpisodeName   string `json:"episode_name,omitempty"`
	Posts         []Post `json:"posts"`
}

// Season groups episodes. Seasons flagged as posted are skipped by the cursor.
type Season struct {
	SeasonNumber int       `json:"season_number"`
	SeasonName   string    `json:"season_name,omitempty"`
	SeasonPosted bool      `json:"season_posted,omitempty"`
	Episodes     []Episode `json:"episodes"`
}

// Document is an agent's master document loaded into memory.
//
// Only the tracker and the season tree are typed. Everything else in the file
// (agent details, profile images, per-post metadata) is kept in raw and
// written back untouched on Save.
type Document struct {
	Tracker Tracker
	Seasons []Season

	raw map[string]any
}

// agentSection mirrors the typed portion of the "agent" object.
type agentSection struct {
	Tracker *Tracker `json:"tracker"`
	Seasons []Season `json:"seasons"`
}

// NewDocument builds a fresh document with the tracker at the first post.
func NewDocument(seasons []Season) *Document {
	if seasons == nil {
		seasons = []Season{}
	}
	return &Document{
		Tracker: Tracker{PostEveryXMinutes: DefaultPostEveryMinutes},
		Seasons: seasons,
	}
}

// Season returns the season at index i.
func (d *Document) Season(i int) (*Season, bool) {
	if d == nil || i < 0 || i >= len(d.Seasons) {
		return nil, false
	}
	return &d.Seasons[i], true
}

// PostAt returns the post at the given indices.
func (d *Document) PostAt(season, episode, post int) (Post, bool) {
	s, ok := d.Season(season)
	if !ok || episode < 0 || episode >= len(s.Episodes) {
		return Post{}, false
	}
	ep := s.Episodes[episode]
	if post < 0 || post >= len(ep.Posts) {
		return Post{}, false
	}
	return ep.Posts[post], true
}

// CountPosts returns the total number of posts in the document.
func (d *Document) CountPosts() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, s := range d.Seasons {
		for _, ep := range s.Episodes {
			n += len(ep.Posts)
		}
	}
	return n
}

// Validate checks the whole season tree for structural problems.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil document", ErrMalformed)
	}
	if d.Seasons == nil {
		return fmt.Errorf("%w: missing seasons", ErrMalformed)
	}
	for si, s := range d.Seasons {
		if s.Episodes == nil {
			return fmt.Errorf("%w: season %d: missing episodes", ErrMalformed, si+1)
		}
		for ei, ep := range s.Episodes {
			if ep.Posts == nil {
				return fmt.Errorf("%w: season %d episode %d: missing posts", ErrMalformed, si+1, ei+1)
			}
			for pi, p := range ep.Posts {
				if strings.TrimSpace(p.Content) == "" {
					return fmt.Errorf("%w: season %d episode %d post %d: empty post_content", ErrMalformed, si+1, ei+1, pi+1)
				}
			}
		}
	}
	if d.Tracker.PostEveryXMinutes < 0 {
		return fmt.Errorf("%w: negative post_every_x_minutes", ErrMalformed)
	}
	return nil
}

// decodeTree converts a raw decoded tree into a Document.
func decodeTree(raw map[string]any) (*Document, error) {
	agentRaw, ok := raw["agent"]
	if !ok {
		return nil, fmt.Errorf("%w: missing agent object", ErrMalformed)
	}
	if _, ok := agentRaw.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: agent is not an object", ErrMalformed)
	}

	// Round-trip through JSON so YAML and JSON sources share one set of tags.
	data, err := json.Marshal(agentRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var section agentSection
	if err := json.Unmarshal(data, &section); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if section.Tracker == nil {
		return nil, fmt.Errorf("%w: missing tracker", ErrMalformed)
	}

	return &Document{
		Tracker: *section.Tracker,
		Seasons: section.Seasons,
		raw:     raw,
	}, nil
}

// encodeTree produces the tree to persist. The raw tree is patched in place
// for the tracker; the season tree is only written when the document was
// built in memory.
func (d *Document) encodeTree() (map[string]any, error) {
	tracker, err := toGeneric(d.Tracker)
	if err != nil {
		return nil, err
	}

	if d.raw == nil {
		seasons, err := toGeneric(d.Seasons)
		if err != nil {
			return nil, err
		}
		d.raw = map[string]any{
			"agent": map[string]any{
				"tracker": tracker,
				"seasons": seasons,
			},
		}
		return d.raw, nil
	}

	agent, ok := d.raw["agent"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: agent is not an object", ErrMalformed)
	}
	agent["tracker"] = tracker
	return d.raw, nil
}

func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := unmarshalJSON(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// unmarshalJSON decodes numbers as json.Number so integers above 2^53 in
// fields agentcast does not own are written back unchanged.
func unmarshalJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
