// Package postlog records every successfully published post in an
// append-only log.
package postlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one published post.
type Entry struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	Agent     string    `json:"agent"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AckID     string    `json:"ack_id,omitempty"`
	Publisher string    `json:"publisher,omitempty"`
}

// NewEntry creates an entry with a fresh ID.
func NewEntry(agent, postID, content string, at time.Time) Entry {
	return Entry{
		ID:        uuid.NewString(),
		PostID:    postID,
		Agent:     agent,
		Content:   content,
		Timestamp: at.UTC(),
	}
}

// Log is an append-only post log.
type Log interface {
	// Append durably records an entry.
	Append(ctx context.Context, e Entry) error
	// Recent returns up to limit of the agent's latest entries, oldest
	// first. limit <= 0 returns all of them.
	Recent(ctx context.Context, agent string, limit int) ([]Entry, error)
	Close() error
}

// Backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open opens the log for backend at path.
func Open(backend, path string) (Log, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return OpenFile(path)
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown post log backend %q (want %s or %s)", backend, BackendFile, BackendSQLite)
	}
}

// ReadRecent returns an agent's latest entries without creating the log when
// it does not exist yet. limit <= 0 returns all of them.
func ReadRecent(ctx context.Context, backend, path, agent string, limit int) ([]Entry, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := ReadEntries(path)
		if err != nil {
			return nil, err
		}
		return lastN(forAgent(entries, agent), limit), nil
	case BackendSQLite:
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to stat post log: %w", err)
		}
		l, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = l.Close() }()
		return l.Recent(ctx, agent, limit)
	default:
		return nil, fmt.Errorf("unknown post log backend %q (want %s or %s)", backend, BackendFile, BackendSQLite)
	}
}

// forAgent keeps entries for agent; an empty agent keeps all.
func forAgent(entries []Entry, agent string) []Entry {
	if agent == "" {
		return entries
	}
	var filtered []Entry
	for _, e := range entries {
		if e.Agent == agent {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// DefaultPath returns the per-agent log location next to the content
// document.
func DefaultPath(contentDir, agent, backend string) string {
	ext := ".jsonl"
	if strings.EqualFold(backend, BackendSQLite) {
		ext = ".db"
	}
	return filepath.Join(contentDir, agent, agent+"_post_log"+ext)
}

// lastN keeps the final n entries; n <= 0 keeps all.
func lastN(entries []Entry, n int) []Entry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
