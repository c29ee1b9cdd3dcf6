package repository

import (
	"context"
	"time"

	"social-publisher/domain/model"
)

// IPublishQueue is the per-platform delayed job queue. Job identity is the
// post id, so scheduling the same post twice is a no-op rather than a
// duplicate job.
type IPublishQueue interface {
	Schedule(ctx context.Context, postID int64, platform model.Platform, when time.Time) error
	Cancel(ctx context.Context, postID int64, platform model.Platform) error
	Reschedule(ctx context.Context, postID int64, platform model.Platform, when time.Time) error
	// Claim atomically removes and returns up to limit due post ids, honoring
	// the platform's rate window. A post id appears in at most one claimer's
	// result.
	Claim(ctx context.Context, platform model.Platform, now time.Time, limit int) ([]int64, error)
}
