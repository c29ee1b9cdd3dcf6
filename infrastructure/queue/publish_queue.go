package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

// RateLimit is a fixed-window cap on how many uploads a platform may start.
type RateLimit struct {
	Limit  int64
	Window time.Duration
}

// PublishQueue is a per-platform delayed queue over sorted sets: member is the
// post id, score is the run-at time in unix milliseconds. Because the member
// is the post id, re-scheduling an already queued post is a natural no-op.
type PublishQueue struct {
	store  repository.IFastStore
	limits map[model.Platform]RateLimit
}

func NewPublishQueue(store repository.IFastStore, limits map[model.Platform]RateLimit) *PublishQueue {
	return &PublishQueue{store: store, limits: limits}
}

func queueKey(platform model.Platform) string {
	return fmt.Sprintf("publish:queue:%s", platform)
}

func (q *PublishQueue) Schedule(ctx context.Context, postID int64, platform model.Platform, when time.Time) error {
	added, err := q.store.ZAddNX(ctx, queueKey(platform), strconv.FormatInt(postID, 10), float64(when.UnixMilli()))
	if err != nil {
		return err
	}
	if !added {
		logger.GetLogger().WithField("postId", postID).Debug("Post already queued, schedule ignored")
	}
	return nil
}

func (q *PublishQueue) Cancel(ctx context.Context, postID int64, platform model.Platform) error {
	_, err := q.store.ZRem(ctx, queueKey(platform), strconv.FormatInt(postID, 10))
	return err
}

func (q *PublishQueue) Reschedule(ctx context.Context, postID int64, platform model.Platform, when time.Time) error {
	member := strconv.FormatInt(postID, 10)
	if _, err := q.store.ZRem(ctx, queueKey(platform), member); err != nil {
		return err
	}
	_, err := q.store.ZAddNX(ctx, queueKey(platform), member, float64(when.UnixMilli()))
	return err
}

// Claim pops up to limit due post ids. Each id is handed to exactly one
// claimer: candidates are read in score order but only the ones this claimer
// actually removes are returned, so concurrent claimers never share a post.
// Window admission happens before each removal as an atomic increment, so
// claimers racing on the same window cannot collectively exceed the limit.
// Partially claimed ids are returned alongside any error; those members are
// already off the queue and the caller must still process them.
func (q *PublishQueue) Claim(ctx context.Context, platform model.Platform, now time.Time, limit int) ([]int64, error) {
	members, err := q.store.ZRangeByScore(ctx, queueKey(platform), float64(now.UnixMilli()), limit)
	if err != nil {
		return nil, err
	}

	var claimed []int64
	for _, member := range members {
		admitted, err := q.admit(ctx, platform, now)
		if err != nil {
			return claimed, err
		}
		if !admitted {
			break // window exhausted, the rest stays due
		}
		removed, err := q.store.ZRem(ctx, queueKey(platform), member)
		if err != nil {
			q.refund(ctx, platform, now)
			return claimed, err
		}
		if !removed {
			q.refund(ctx, platform, now)
			continue // another claimer got there first
		}
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			q.refund(ctx, platform, now)
			logger.GetLogger().WithField("member", member).Error("Dropping non-numeric queue member")
			continue
		}
		claimed = append(claimed, id)
	}
	return claimed, nil
}

// admit reserves one slot in the platform's current rate window. The counter
// is incremented first and rolled back when over the limit, so the check and
// the reservation are one atomic step for every claimer.
func (q *PublishQueue) admit(ctx context.Context, platform model.Platform, now time.Time) (bool, error) {
	rl, ok := q.limits[platform]
	if !ok || rl.Limit <= 0 || rl.Window <= 0 {
		return true, nil
	}
	key := q.rateKey(platform, now)
	n, err := q.store.IncrBy(ctx, key, 1)
	if err != nil {
		return false, err
	}
	if n == 1 {
		windowStart := now.Truncate(rl.Window)
		if err := q.store.ExpireAt(ctx, key, windowStart.Add(rl.Window)); err != nil {
			q.refund(ctx, platform, now)
			return false, err
		}
	}
	if n > rl.Limit {
		q.refund(ctx, platform, now)
		return false, nil
	}
	return true, nil
}

// refund gives an admitted slot back after a claim that consumed no post.
func (q *PublishQueue) refund(ctx context.Context, platform model.Platform, now time.Time) {
	rl, ok := q.limits[platform]
	if !ok || rl.Limit <= 0 || rl.Window <= 0 {
		return
	}
	if _, err := q.store.IncrBy(ctx, q.rateKey(platform, now), -1); err != nil {
		logger.GetLogger().WithField("platform", platform).WithField("error", err).Warn("Rate slot refund failed")
	}
}

func (q *PublishQueue) rateKey(platform model.Platform, now time.Time) string {
	rl := q.limits[platform]
	windowStart := now.Truncate(rl.Window).Unix()
	return fmt.Sprintf("publish:rate:%s:%d", platform, windowStart)
}

var _ repository.IPublishQueue = (*PublishQueue)(nil)
