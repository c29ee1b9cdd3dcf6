package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/cache"
)

type workerFixture struct {
	worker    *PublishWorker
	posts     *fakePostRepo
	accounts  *fakeAccountRepo
	queue     *fakeQueue
	logs      *fakeLogRepo
	notifs    *fakeNotificationRepo
	publisher *fakePublisher
	events    *fakeEvents
	alerts    *fakeAlerts
}

func newWorkerFixture(t *testing.T, platform model.Platform) *workerFixture {
	t.Helper()
	sealer := newTestSealer()
	posts := newFakePostRepo()
	accounts := newFakeAccountRepo()
	queue := newFakeQueue()
	logs := &fakeLogRepo{}
	notifs := &fakeNotificationRepo{}
	publisher := &fakePublisher{platform: platform, publishID: "ext-1"}
	events := &fakeEvents{}
	alerts := &fakeAlerts{}

	refresher := NewTokenRefresher(accounts, sealer,
		cache.NewRefreshLock(cache.NewMemoryStore(), 30*time.Second),
		map[model.Platform]repository.IPlatformPublisher{platform: publisher})

	worker := NewPublishWorker(
		posts, accounts, queue, logs, notifs,
		&fakeVideoStore{content: make([]byte, 2048)},
		refresher, sealer,
		map[model.Platform]repository.IPlatformPublisher{platform: publisher},
		events, alerts, nil,
		WorkerConfig{MaxAttempts: 3, RetryBackoff: time.Minute, LockDuration: 30 * time.Minute},
	)
	return &workerFixture{
		worker: worker, posts: posts, accounts: accounts, queue: queue,
		logs: logs, notifs: notifs, publisher: publisher, events: events, alerts: alerts,
	}
}

func (f *workerFixture) seedAccount(t *testing.T, platform model.Platform, expiresAt time.Time) *model.ConnectedAccount {
	t.Helper()
	sealer := newTestSealer()
	accessEnc, err := sealer.Seal("plain-access-token")
	require.NoError(t, err)
	refreshEnc, err := sealer.Seal("plain-refresh-token")
	require.NoError(t, err)
	acct := &model.ConnectedAccount{
		UserID:            "user-1",
		Platform:          platform,
		ExternalAccountID: "ext-acct",
		AccessTokenEnc:    accessEnc,
		RefreshTokenEnc:   &refreshEnc,
		TokenExpiresAt:    expiresAt,
		TokenKind:         model.TokenKindShortLived,
		IsActive:          true,
	}
	f.accounts.put(acct)
	return acct
}

func (f *workerFixture) seedPost(platform model.Platform, accountID int64) *model.ScheduledPost {
	post := &model.ScheduledPost{
		UserID:      "user-1",
		AccountID:   accountID,
		Platform:    platform,
		VideoKey:    "videos/cat.mp4",
		Title:       "Cat video",
		ScheduledAt: time.Now().Add(-time.Minute),
		Status:      model.PostStatusPending,
	}
	f.posts.put(post)
	return post
}

func TestPublishWorker_SuccessPath(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformYouTube)
	acct := f.seedAccount(t, model.PlatformYouTube, time.Now().Add(12*time.Hour))
	post := f.seedPost(model.PlatformYouTube, acct.ID)

	require.NoError(t, f.worker.Process(context.Background(), post.ID))

	got := f.posts.get(post.ID)
	assert.Equal(t, model.PostStatusSuccess, got.Status)
	require.NotNil(t, got.ExternalPostID)
	assert.Equal(t, "ext-1", *got.ExternalPostID)
	assert.Equal(t, 1, got.AttemptCount)

	events := f.logs.events(post.ID)
	assert.Contains(t, events, model.LogEventUploadStarted)
	assert.Contains(t, events, model.LogEventUploadComplete)
	assert.Contains(t, events, model.LogEventPublishSuccess)

	require.Len(t, f.notifs.created, 1)
	require.Len(t, f.events.outcomes, 1)
	assert.Equal(t, model.PostStatusSuccess, f.events.outcomes[0].Status)
	assert.Empty(t, f.alerts.alerts)
}

func TestPublishWorker_ReplayAfterSuccessIsNoOp(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformYouTube)
	acct := f.seedAccount(t, model.PlatformYouTube, time.Now().Add(12*time.Hour))
	post := f.seedPost(model.PlatformYouTube, acct.ID)

	require.NoError(t, f.worker.Process(context.Background(), post.ID))
	publishCalls, _ := f.publisher.calls()
	require.Equal(t, 1, publishCalls)
	logCount := len(f.logs.events(post.ID))

	// Replaying the job (queue glitch, crashed ack) must not upload again.
	require.NoError(t, f.worker.Process(context.Background(), post.ID))

	publishCalls, _ = f.publisher.calls()
	assert.Equal(t, 1, publishCalls)
	assert.Len(t, f.logs.events(post.ID), logCount)
	got := f.posts.get(post.ID)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestPublishWorker_ContentionIsSilentNoOp(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformYouTube)
	acct := f.seedAccount(t, model.PlatformYouTube, time.Now().Add(12*time.Hour))
	post := f.seedPost(model.PlatformYouTube, acct.ID)
	f.posts.locked[post.ID] = true

	require.NoError(t, f.worker.Process(context.Background(), post.ID))

	publishCalls, _ := f.publisher.calls()
	assert.Zero(t, publishCalls)
	assert.Empty(t, f.logs.events(post.ID))
	assert.Equal(t, model.PostStatusPending, f.posts.get(post.ID).Status)
}

func TestPublishWorker_QuotaDeferralConsumesNoAttempt(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformYouTube)
	acct := f.seedAccount(t, model.PlatformYouTube, time.Now().Add(12*time.Hour))
	post := f.seedPost(model.PlatformYouTube, acct.ID)

	retryAt := time.Now().UTC().Truncate(24 * time.Hour).Add(24*time.Hour + 15*time.Minute)
	f.publisher.publishErr = &repository.QuotaDeferredError{RetryAt: retryAt}

	require.NoError(t, f.worker.Process(context.Background(), post.ID))

	got := f.posts.get(post.ID)
	assert.Equal(t, model.PostStatusPending, got.Status)
	assert.Zero(t, got.AttemptCount)
	assert.Equal(t, retryAt, got.ScheduledAt)

	when, ok := f.queue.runAt(post.ID)
	require.True(t, ok)
	assert.Equal(t, retryAt, when)

	events := f.logs.events(post.ID)
	assert.Contains(t, events, model.LogEventQuotaExceeded)
	assert.Contains(t, events, model.LogEventRescheduled)
	assert.Empty(t, f.notifs.created)
}

func TestPublishWorker_TransientFailuresExhaustAfterThreeAttempts(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformTikTok)
	acct := f.seedAccount(t, model.PlatformTikTok, time.Now().Add(12*time.Hour))
	post := f.seedPost(model.PlatformTikTok, acct.ID)
	f.publisher.publishErr = errors.New("upstream 503")

	ctx := context.Background()
	require.NoError(t, f.worker.Process(ctx, post.ID))
	got := f.posts.get(post.ID)
	assert.Equal(t, model.PostStatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)

	require.NoError(t, f.worker.Process(ctx, post.ID))
	got = f.posts.get(post.ID)
	assert.Equal(t, model.PostStatusPending, got.Status)
	assert.Equal(t, 2, got.AttemptCount)

	require.NoError(t, f.worker.Process(ctx, post.ID))
	got = f.posts.get(post.ID)
	assert.Equal(t, model.PostStatusFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "gave up after 3 attempts")

	// Exactly one notification and one alert for the terminal failure.
	assert.Len(t, f.notifs.created, 1)
	assert.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, 3, f.alerts.alerts[0].Attempts)

	// The exhausted post never goes back on the queue.
	_, queued := f.queue.runAt(post.ID)
	assert.False(t, queued)

	// And further replays are no-ops.
	require.NoError(t, f.worker.Process(ctx, post.ID))
	publishCalls, _ := f.publisher.calls()
	assert.Equal(t, 3, publishCalls)
}

func TestPublishWorker_RecoverStalledRedeliversAbandonedClaim(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformYouTube)
	acct := f.seedAccount(t, model.PlatformYouTube, time.Now().Add(12*time.Hour))
	post := f.seedPost(model.PlatformYouTube, acct.ID)
	ctx := context.Background()

	// A worker claims the queue entry and the row, then dies before any
	// terminal bookkeeping: the post sits in UPLOADING with no queue entry.
	require.NoError(t, f.queue.Schedule(ctx, post.ID, model.PlatformYouTube, post.ScheduledAt))
	ids, err := f.queue.Claim(ctx, model.PlatformYouTube, time.Now(), 10)
	require.NoError(t, err)
	require.Equal(t, []int64{post.ID}, ids)
	_, claimed, err := f.posts.ClaimForUpload(ctx, post.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	_, queued := f.queue.runAt(post.ID)
	require.False(t, queued)

	// A fresh claim is still within its lock duration; the sweep leaves it.
	require.NoError(t, f.worker.RecoverStalled(ctx, model.PlatformYouTube))
	_, queued = f.queue.runAt(post.ID)
	assert.False(t, queued)

	// Once the row goes quiet past the lock duration it gets re-enqueued.
	f.posts.setUpdatedAt(post.ID, time.Now().Add(-time.Hour))
	require.NoError(t, f.worker.RecoverStalled(ctx, model.PlatformYouTube))
	_, queued = f.queue.runAt(post.ID)
	require.True(t, queued)

	// The redelivered post finishes normally on its second attempt.
	require.NoError(t, f.worker.Process(ctx, post.ID))
	got := f.posts.get(post.ID)
	assert.Equal(t, model.PostStatusSuccess, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
}

func TestPublishWorker_RecoverStalledRestoresLostPendingPost(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformTikTok)
	acct := f.seedAccount(t, model.PlatformTikTok, time.Now().Add(12*time.Hour))
	post := f.seedPost(model.PlatformTikTok, acct.ID)
	ctx := context.Background()

	// A revert landed in the database but the re-enqueue was lost: the post
	// is PENDING, long overdue, and absent from the queue.
	f.posts.put(&model.ScheduledPost{
		ID: post.ID, UserID: post.UserID, AccountID: post.AccountID, Platform: post.Platform,
		VideoKey: post.VideoKey, ScheduledAt: time.Now().Add(-2 * time.Hour), Status: model.PostStatusPending,
	})

	require.NoError(t, f.worker.RecoverStalled(ctx, model.PlatformTikTok))
	_, queued := f.queue.runAt(post.ID)
	require.True(t, queued)

	// A second sweep cannot double-queue the same stall.
	before, _ := f.queue.runAt(post.ID)
	require.NoError(t, f.worker.RecoverStalled(ctx, model.PlatformTikTok))
	after, ok := f.queue.runAt(post.ID)
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestPublishWorker_RecoverStalledSkipsFinishedAndForeignPosts(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformYouTube)
	acct := f.seedAccount(t, model.PlatformYouTube, time.Now().Add(12*time.Hour))
	ctx := context.Background()

	published := f.seedPost(model.PlatformYouTube, acct.ID)
	require.NoError(t, f.worker.Process(ctx, published.ID))
	otherPlatform := f.seedPost(model.PlatformTikTok, acct.ID)
	f.posts.put(&model.ScheduledPost{
		ID: otherPlatform.ID, UserID: otherPlatform.UserID, AccountID: acct.ID, Platform: model.PlatformTikTok,
		VideoKey: otherPlatform.VideoKey, ScheduledAt: time.Now().Add(-2 * time.Hour), Status: model.PostStatusPending,
	})

	require.NoError(t, f.worker.RecoverStalled(ctx, model.PlatformYouTube))
	_, queued := f.queue.runAt(published.ID)
	assert.False(t, queued)
	_, queued = f.queue.runAt(otherPlatform.ID)
	assert.False(t, queued)
}

// flakyClaimQueue returns claimed ids together with an error, the shape a
// transient store failure mid-claim produces.
type flakyClaimQueue struct {
	*fakeQueue
	claimErr error
}

func (q *flakyClaimQueue) Claim(ctx context.Context, platform model.Platform, now time.Time, limit int) ([]int64, error) {
	ids, _ := q.fakeQueue.Claim(ctx, platform, now, limit)
	return ids, q.claimErr
}

func TestPublishWorker_ProcessesClaimedPostsDespiteClaimError(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformYouTube)
	acct := f.seedAccount(t, model.PlatformYouTube, time.Now().Add(12*time.Hour))
	post := f.seedPost(model.PlatformYouTube, acct.ID)
	ctx := context.Background()

	flaky := &flakyClaimQueue{fakeQueue: f.queue, claimErr: errors.New("connection reset by peer")}
	sealer := newTestSealer()
	refresher := NewTokenRefresher(f.accounts, sealer,
		cache.NewRefreshLock(cache.NewMemoryStore(), 30*time.Second),
		map[model.Platform]repository.IPlatformPublisher{model.PlatformYouTube: f.publisher})
	worker := NewPublishWorker(
		f.posts, f.accounts, flaky, f.logs, f.notifs,
		&fakeVideoStore{content: make([]byte, 2048)},
		refresher, sealer,
		map[model.Platform]repository.IPlatformPublisher{model.PlatformYouTube: f.publisher},
		f.events, f.alerts, nil,
		WorkerConfig{MaxAttempts: 3, RetryBackoff: time.Minute, LockDuration: 30 * time.Minute},
	)

	require.NoError(t, f.queue.Schedule(ctx, post.ID, model.PlatformYouTube, post.ScheduledAt))
	worker.drainOnce(ctx, model.PlatformYouTube)

	// The id came off the queue with the error attached; it must still have
	// been processed rather than stranded.
	got := f.posts.get(post.ID)
	assert.Equal(t, model.PostStatusSuccess, got.Status)
	publishCalls, _ := f.publisher.calls()
	assert.Equal(t, 1, publishCalls)
}

func TestPublishWorker_ReauthRequiredFailsTerminally(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformTikTok)
	// Token already expired, so the worker must refresh before uploading.
	acct := f.seedAccount(t, model.PlatformTikTok, time.Now().Add(-time.Minute))
	post := f.seedPost(model.PlatformTikTok, acct.ID)
	f.publisher.refreshErr = repository.ErrReauthRequired

	require.NoError(t, f.worker.Process(context.Background(), post.ID))

	got := f.posts.get(post.ID)
	assert.Equal(t, model.PostStatusFailed, got.Status)

	flagged, err := f.accounts.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.True(t, flagged.NeedsReauth)

	events := f.logs.events(post.ID)
	assert.Contains(t, events, model.LogEventTokenRefreshFailed)
	publishCalls, _ := f.publisher.calls()
	assert.Zero(t, publishCalls)
}

func TestPublishWorker_RefreshesExpiringTokenBeforeUpload(t *testing.T) {
	f := newWorkerFixture(t, model.PlatformTikTok)
	acct := f.seedAccount(t, model.PlatformTikTok, time.Now().Add(10*time.Minute))
	post := f.seedPost(model.PlatformTikTok, acct.ID)
	f.publisher.refreshPair = &repository.TokenPair{
		AccessToken:  "rotated-access",
		RefreshToken: "rotated-refresh",
		ExpiresAt:    time.Now().Add(24 * time.Hour),
		Kind:         model.TokenKindShortLived,
	}

	require.NoError(t, f.worker.Process(context.Background(), post.ID))

	_, refreshCalls := f.publisher.calls()
	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, model.PostStatusSuccess, f.posts.get(post.ID).Status)
	assert.Contains(t, f.logs.events(post.ID), model.LogEventTokenRefreshed)

	// The stored credential was rotated and re-encrypted.
	stored, err := f.accounts.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	plain, err := newTestSealer().Open(stored.AccessTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "rotated-access", plain)
}
