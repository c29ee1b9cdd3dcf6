package cache

import (
	"context"
	"fmt"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

// DailyQuota tracks platform API quota units consumed per UTC day. Reserve
// increments before an upload starts so concurrent workers can never push the
// counter past the limit; a failed upload calls Release to hand the units
// back, a successful one keeps them.
type DailyQuota struct {
	store    repository.IFastStore
	platform model.Platform
	limit    int64
	cost     int64
}

func NewDailyQuota(store repository.IFastStore, platform model.Platform, limit, cost int64) *DailyQuota {
	return &DailyQuota{store: store, platform: platform, limit: limit, cost: cost}
}

func (q *DailyQuota) key(now time.Time) string {
	return fmt.Sprintf("quota:%s:%s", q.platform, now.UTC().Format("2006-01-02"))
}

// Reserve claims one upload's worth of quota units for the current UTC day.
// When the day's budget is exhausted it rolls the increment back and returns
// a QuotaDeferredError pointing at shortly after the next UTC midnight, when
// the window resets.
func (q *DailyQuota) Reserve(ctx context.Context, now time.Time) error {
	if q.limit <= 0 {
		return nil
	}
	key := q.key(now)
	total, err := q.store.IncrBy(ctx, key, q.cost)
	if err != nil {
		return err
	}
	// The counter key dies with its day so stale days never accumulate.
	if err := q.store.ExpireAt(ctx, key, nextUTCMidnight(now)); err != nil {
		return err
	}
	if total > q.limit {
		if _, err := q.store.IncrBy(ctx, key, -q.cost); err != nil {
			return err
		}
		return &repository.QuotaDeferredError{RetryAt: nextUTCMidnight(now).Add(15 * time.Minute)}
	}
	return nil
}

// Release returns a reservation made earlier the same day, after an upload
// that consumed no quota on the platform side.
func (q *DailyQuota) Release(ctx context.Context, now time.Time) error {
	if q.limit <= 0 {
		return nil
	}
	_, err := q.store.IncrBy(ctx, q.key(now), -q.cost)
	return err
}

func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}
