package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-publisher/domain/dto"
	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/realtime"
)

type scheduleFixture struct {
	usecase  IScheduleUsecase
	posts    *fakePostRepo
	accounts *fakeAccountRepo
	queue    *fakeQueue
	logs     *fakeLogRepo
}

func newScheduleFixture(t *testing.T) *scheduleFixture {
	t.Helper()
	posts := newFakePostRepo()
	accounts := newFakeAccountRepo()
	queue := newFakeQueue()
	logs := &fakeLogRepo{}
	publishers := map[model.Platform]repository.IPlatformPublisher{
		model.PlatformYouTube: &fakePublisher{platform: model.PlatformYouTube},
	}
	u := NewScheduleUsecase(posts, accounts, queue, logs, publishers, newTestSealer(), realtime.NewPostHub())
	return &scheduleFixture{usecase: u, posts: posts, accounts: accounts, queue: queue, logs: logs}
}

func (f *scheduleFixture) seedAccount(active, needsReauth bool) *model.ConnectedAccount {
	acct := &model.ConnectedAccount{
		UserID:            "user-1",
		Platform:          model.PlatformYouTube,
		ExternalAccountID: "UC123",
		AccessTokenEnc:    "v1.sealed",
		TokenExpiresAt:    time.Now().Add(time.Hour),
		IsActive:          active,
		NeedsReauth:       needsReauth,
	}
	f.accounts.put(acct)
	return acct
}

func validRequest(accountID int64) *dto.SchedulePostRequest {
	return &dto.SchedulePostRequest{
		Platform:    "youtube",
		AccountID:   accountID,
		VideoKey:    "videos/cat.mp4",
		Title:       "Cat video",
		ScheduledAt: time.Now().Add(2 * time.Hour),
	}
}

func TestScheduleUsecase_SchedulePost(t *testing.T) {
	f := newScheduleFixture(t)
	acct := f.seedAccount(true, false)

	post, err := f.usecase.SchedulePost(context.Background(), "user-1", validRequest(acct.ID))
	require.NoError(t, err)
	assert.Equal(t, model.PostStatusPending, post.Status)

	// The job is queued for the scheduled time and the audit trail starts.
	when, ok := f.queue.runAt(post.ID)
	require.True(t, ok)
	assert.WithinDuration(t, post.ScheduledAt, when, time.Second)
	assert.Equal(t, []string{model.LogEventQueued}, f.logs.events(post.ID))
}

func TestScheduleUsecase_SchedulePost_Validation(t *testing.T) {
	f := newScheduleFixture(t)
	acct := f.seedAccount(true, false)

	req := validRequest(acct.ID)
	req.ScheduledAt = time.Now().Add(-time.Minute)
	_, err := f.usecase.SchedulePost(context.Background(), "user-1", req)
	assert.ErrorIs(t, err, ErrPastSchedule)

	req = validRequest(acct.ID)
	req.Platform = "myspace"
	_, err = f.usecase.SchedulePost(context.Background(), "user-1", req)
	assert.ErrorIs(t, err, ErrUnknownPlatform)

	req = validRequest(999)
	_, err = f.usecase.SchedulePost(context.Background(), "user-1", req)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	// Another user's account is invisible, not merely rejected.
	_, err = f.usecase.SchedulePost(context.Background(), "someone-else", validRequest(acct.ID))
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestScheduleUsecase_SchedulePost_UnusableAccount(t *testing.T) {
	f := newScheduleFixture(t)
	reauth := f.seedAccount(true, true)
	_, err := f.usecase.SchedulePost(context.Background(), "user-1", validRequest(reauth.ID))
	assert.ErrorIs(t, err, ErrAccountUnusable)

	inactive := f.seedAccount(false, false)
	_, err = f.usecase.SchedulePost(context.Background(), "user-1", validRequest(inactive.ID))
	assert.ErrorIs(t, err, ErrAccountUnusable)
}

func TestScheduleUsecase_CancelPost(t *testing.T) {
	f := newScheduleFixture(t)
	acct := f.seedAccount(true, false)
	post, err := f.usecase.SchedulePost(context.Background(), "user-1", validRequest(acct.ID))
	require.NoError(t, err)

	require.NoError(t, f.usecase.CancelPost(context.Background(), "user-1", post.ID))
	assert.Equal(t, model.PostStatusCancelled, f.posts.get(post.ID).Status)
	_, queued := f.queue.runAt(post.ID)
	assert.False(t, queued)
	assert.Contains(t, f.logs.events(post.ID), model.LogEventCancelled)

	// Cancelling twice, or after the worker claimed it, conflicts.
	err = f.usecase.CancelPost(context.Background(), "user-1", post.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestScheduleUsecase_CancelPost_UploadingConflicts(t *testing.T) {
	f := newScheduleFixture(t)
	acct := f.seedAccount(true, false)
	post, err := f.usecase.SchedulePost(context.Background(), "user-1", validRequest(acct.ID))
	require.NoError(t, err)

	_, claimed, err := f.posts.ClaimForUpload(context.Background(), post.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	err = f.usecase.CancelPost(context.Background(), "user-1", post.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
	assert.Equal(t, model.PostStatusUploading, f.posts.get(post.ID).Status)
}

func TestScheduleUsecase_ConnectAccount(t *testing.T) {
	f := newScheduleFixture(t)

	acct, err := f.usecase.ConnectAccount(context.Background(), "user-1", &dto.ConnectAccountRequest{
		Platform: "youtube",
		Code:     "consent-code",
		State:    "state-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ext-acct", acct.ExternalAccountID)
	assert.True(t, acct.IsActive)

	// Tokens land encrypted, never plaintext.
	assert.NotEqual(t, "fresh-access", acct.AccessTokenEnc)
	plain, err := newTestSealer().Open(acct.AccessTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", plain)
}

func TestScheduleUsecase_StartConnect(t *testing.T) {
	f := newScheduleFixture(t)

	authURL, state, err := f.usecase.StartConnect(context.Background(), "youtube")
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, state)

	_, _, err = f.usecase.StartConnect(context.Background(), "vine")
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestScheduleUsecase_DisconnectAccount(t *testing.T) {
	f := newScheduleFixture(t)
	acct := f.seedAccount(true, false)

	require.NoError(t, f.usecase.DisconnectAccount(context.Background(), "user-1", acct.ID))

	err := f.usecase.DisconnectAccount(context.Background(), "user-1", acct.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
