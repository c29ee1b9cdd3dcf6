package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

func TestDailyQuota_ReserveUntilExhausted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	quota := NewDailyQuota(store, model.PlatformYouTube, 10000, 1600)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	// 6 * 1600 = 9600 fits inside 10000, the 7th does not.
	for i := 0; i < 6; i++ {
		require.NoError(t, quota.Reserve(ctx, now))
	}
	err := quota.Reserve(ctx, now)
	require.Error(t, err)

	deferred, ok := repository.IsQuotaDeferred(err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 15, 0, 0, time.UTC), deferred.RetryAt)

	// The failed reservation was rolled back, so releasing one earlier
	// upload makes room again.
	require.NoError(t, quota.Release(ctx, now))
	assert.NoError(t, quota.Reserve(ctx, now))
}

func TestDailyQuota_WindowIsPerUTCDay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	quota := NewDailyQuota(store, model.PlatformYouTube, 1600, 1600)

	day1 := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	store.Now = func() time.Time { return day1 }
	require.NoError(t, quota.Reserve(ctx, day1))
	require.Error(t, quota.Reserve(ctx, day1))

	// A new UTC day gets a fresh budget under a fresh key.
	day2 := day1.Add(time.Hour)
	assert.NoError(t, quota.Reserve(ctx, day2))
}

func TestDailyQuota_ZeroLimitDisablesTracking(t *testing.T) {
	ctx := context.Background()
	quota := NewDailyQuota(NewMemoryStore(), model.PlatformTikTok, 0, 0)
	for i := 0; i < 50; i++ {
		require.NoError(t, quota.Reserve(ctx, time.Now()))
	}
}
