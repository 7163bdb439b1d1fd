package publisher

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DryRun accepts every post without sending it anywhere.
type DryRun struct {
	now func() time.Time
}

// NewDryRun creates a dry-run publisher.
func NewDryRun() *DryRun {
	return &DryRun{now: time.Now}
}

// Publish returns a synthetic ack.
func (d *DryRun) Publish(ctx context.Context, text string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	return Ack{
		ID:          "dry-run-" + uuid.NewString(),
		PublishedAt: d.now().UTC(),
	}, nil
}

// Name reports "dry-run".
func (d *DryRun) Name() string { return "dry-run" }
