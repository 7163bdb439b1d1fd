// Package publisher delivers post text to a social platform.
package publisher

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRateLimited means the post was refused by a local or remote limit.
	ErrRateLimited = errors.New("rate limited")

	// ErrRejected means the platform refused the post itself (4xx).
	ErrRejected = errors.New("post rejected")
)

// Ack identifies a published post on the platform.
type Ack struct {
	ID          string
	URL         string
	PublishedAt time.Time
}

// Publisher publishes one post. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, text string) (Ack, error)
	Name() string
}

// Func adapts a function to a Publisher.
type Func func(ctx context.Context, text string) (Ack, error)

// Publish calls f.
func (f Func) Publish(ctx context.Context, text string) (Ack, error) {
	return f(ctx, text)
}

// Name reports "func".
func (f Func) Name() string { return "func" }
