package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/cache"
)

func newQueue(limits map[model.Platform]RateLimit) *PublishQueue {
	return NewPublishQueue(cache.NewMemoryStore(), limits)
}

func TestPublishQueue_ClaimOnlyDuePosts(t *testing.T) {
	ctx := context.Background()
	q := newQueue(nil)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.Schedule(ctx, 1, model.PlatformYouTube, now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(ctx, 2, model.PlatformYouTube, now.Add(-2*time.Minute)))
	require.NoError(t, q.Schedule(ctx, 3, model.PlatformYouTube, now.Add(time.Hour)))

	claimed, err := q.Claim(ctx, model.PlatformYouTube, now, 10)
	require.NoError(t, err)
	// Due posts come back oldest first; the future post stays queued.
	assert.Equal(t, []int64{2, 1}, claimed)

	claimed, err = q.Claim(ctx, model.PlatformYouTube, now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = q.Claim(ctx, model.PlatformYouTube, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, claimed)
}

func TestPublishQueue_ScheduleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := newQueue(nil)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.Schedule(ctx, 5, model.PlatformTikTok, now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(ctx, 5, model.PlatformTikTok, now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(ctx, 5, model.PlatformTikTok, now.Add(time.Hour)))

	claimed, err := q.Claim(ctx, model.PlatformTikTok, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, claimed)

	// The duplicate schedules left nothing behind.
	claimed, err = q.Claim(ctx, model.PlatformTikTok, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestPublishQueue_QueuesArePerPlatform(t *testing.T) {
	ctx := context.Background()
	q := newQueue(nil)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.Schedule(ctx, 1, model.PlatformYouTube, now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(ctx, 1, model.PlatformInstagram, now.Add(-time.Minute)))

	claimed, err := q.Claim(ctx, model.PlatformYouTube, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, claimed)

	claimed, err = q.Claim(ctx, model.PlatformInstagram, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, claimed)
}

func TestPublishQueue_CancelRemovesJob(t *testing.T) {
	ctx := context.Background()
	q := newQueue(nil)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.Schedule(ctx, 9, model.PlatformYouTube, now.Add(-time.Minute)))
	require.NoError(t, q.Cancel(ctx, 9, model.PlatformYouTube))

	claimed, err := q.Claim(ctx, model.PlatformYouTube, now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestPublishQueue_RescheduleMovesRunAt(t *testing.T) {
	ctx := context.Background()
	q := newQueue(nil)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.Schedule(ctx, 4, model.PlatformYouTube, now.Add(-time.Minute)))
	require.NoError(t, q.Reschedule(ctx, 4, model.PlatformYouTube, now.Add(time.Hour)))

	claimed, err := q.Claim(ctx, model.PlatformYouTube, now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = q.Claim(ctx, model.PlatformYouTube, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, claimed)
}

func TestPublishQueue_RateWindowCapsClaims(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	q := NewPublishQueue(store, map[model.Platform]RateLimit{
		model.PlatformYouTube: {Limit: 2, Window: time.Hour},
	})
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	for id := int64(1); id <= 4; id++ {
		require.NoError(t, q.Schedule(ctx, id, model.PlatformYouTube, now.Add(-time.Minute)))
	}

	claimed, err := q.Claim(ctx, model.PlatformYouTube, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, claimed)

	// Window exhausted: the remaining due posts wait.
	claimed, err = q.Claim(ctx, model.PlatformYouTube, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// Next window reopens the budget.
	claimed, err = q.Claim(ctx, model.PlatformYouTube, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, claimed)
}

func TestPublishQueue_ConcurrentClaimersRespectRateWindow(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	q := NewPublishQueue(store, map[model.Platform]RateLimit{
		model.PlatformTikTok: {Limit: 2, Window: time.Hour},
	})
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	for id := int64(1); id <= 10; id++ {
		require.NoError(t, q.Schedule(ctx, id, model.PlatformTikTok, now.Add(-time.Minute)))
	}

	// Eight claimers race on one two-slot window. Admission is an atomic
	// reserve per post, so their combined haul can never exceed the limit.
	results := make(chan []int64, 8)
	for w := 0; w < 8; w++ {
		go func() {
			claimed, err := q.Claim(ctx, model.PlatformTikTok, now, 10)
			assert.NoError(t, err)
			results <- claimed
		}()
	}

	seen := map[int64]int{}
	total := 0
	for w := 0; w < 8; w++ {
		for _, id := range <-results {
			seen[id]++
			total++
		}
	}
	assert.LessOrEqual(t, total, 2)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "post %d claimed %d times", id, n)
	}

	// The unclaimed slots were refunded, not burned: the next window still
	// releases exactly two more.
	claimed, err := q.Claim(ctx, model.PlatformTikTok, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestPublishQueue_ConcurrentClaimersNeverSharePosts(t *testing.T) {
	ctx := context.Background()
	q := newQueue(nil)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	for id := int64(1); id <= 20; id++ {
		require.NoError(t, q.Schedule(ctx, id, model.PlatformYouTube, now.Add(-time.Minute)))
	}

	results := make(chan []int64, 4)
	for w := 0; w < 4; w++ {
		go func() {
			var got []int64
			for {
				claimed, err := q.Claim(ctx, model.PlatformYouTube, now, 3)
				if err != nil || len(claimed) == 0 {
					break
				}
				got = append(got, claimed...)
			}
			results <- got
		}()
	}

	seen := map[int64]int{}
	total := 0
	for w := 0; w < 4; w++ {
		for _, id := range <-results {
			seen[id]++
			total++
		}
	}
	assert.Equal(t, 20, total)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "post %d claimed %d times", id, n)
	}
}
