package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"social-publisher/domain/dto"
	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/crypto"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/realtime"
)

// Validation and state errors the HTTP layer maps onto status codes.
var (
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrPastSchedule    = errors.New("scheduled time must be in the future")
	ErrAccountNotFound = errors.New("connected account not found")
	ErrAccountMismatch = errors.New("account does not belong to the requested platform")
	ErrAccountUnusable = errors.New("account is inactive or needs re-authentication")
	ErrPostNotFound    = errors.New("scheduled post not found")
	ErrNotCancellable  = errors.New("post is no longer cancellable")
)

type IScheduleUsecase interface {
	SchedulePost(ctx context.Context, userID string, req *dto.SchedulePostRequest) (*model.ScheduledPost, error)
	ListPosts(ctx context.Context, userID, status string, limit int) ([]*model.ScheduledPost, error)
	GetPost(ctx context.Context, userID string, id int64) (*model.ScheduledPost, error)
	GetPostLogs(ctx context.Context, userID string, id int64) ([]*model.UploadLog, error)
	CancelPost(ctx context.Context, userID string, id int64) error

	ListAccounts(ctx context.Context, userID string) ([]*model.ConnectedAccount, error)
	DisconnectAccount(ctx context.Context, userID string, id int64) error
	// StartConnect returns the provider consent URL and the state to carry
	// through the round trip.
	StartConnect(ctx context.Context, platform string) (authURL, state string, err error)
	ConnectAccount(ctx context.Context, userID string, req *dto.ConnectAccountRequest) (*model.ConnectedAccount, error)
}

type scheduleUsecase struct {
	posts      repository.IScheduledPost
	accounts   repository.IConnectedAccount
	queue      repository.IPublishQueue
	logs       repository.IUploadLog
	publishers map[model.Platform]repository.IPlatformPublisher
	sealer     *crypto.TokenSealer
	hub        *realtime.Hub
	now        func() time.Time
}

func NewScheduleUsecase(
	posts repository.IScheduledPost,
	accounts repository.IConnectedAccount,
	queue repository.IPublishQueue,
	logs repository.IUploadLog,
	publishers map[model.Platform]repository.IPlatformPublisher,
	sealer *crypto.TokenSealer,
	hub *realtime.Hub,
) IScheduleUsecase {
	return &scheduleUsecase{
		posts:      posts,
		accounts:   accounts,
		queue:      queue,
		logs:       logs,
		publishers: publishers,
		sealer:     sealer,
		hub:        hub,
		now:        time.Now,
	}
}

func (u *scheduleUsecase) SchedulePost(ctx context.Context, userID string, req *dto.SchedulePostRequest) (*model.ScheduledPost, error) {
	platform, ok := model.ParsePlatform(req.Platform)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, req.Platform)
	}
	if !req.ScheduledAt.After(u.now()) {
		return nil, ErrPastSchedule
	}

	acct, err := u.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.UserID != userID {
		return nil, ErrAccountNotFound
	}
	if acct.Platform != platform {
		return nil, ErrAccountMismatch
	}
	if !acct.IsActive || acct.NeedsReauth {
		return nil, ErrAccountUnusable
	}

	post := &model.ScheduledPost{
		UserID:         userID,
		AccountID:      acct.ID,
		Platform:       platform,
		VideoKey:       req.VideoKey,
		Title:          req.Title,
		Caption:        req.Caption,
		PublishOptions: req.PublishOptions,
		ScheduledAt:    req.ScheduledAt.UTC(),
		Status:         model.PostStatusPending,
	}
	id, err := u.posts.Create(ctx, post)
	if err != nil {
		return nil, err
	}
	post.ID = id

	_ = u.logs.Append(ctx, &model.UploadLog{
		PostID: id,
		Event:  model.LogEventQueued,
		Metadata: map[string]interface{}{
			"platform":     string(platform),
			"scheduled_at": post.ScheduledAt.Format(time.RFC3339),
		},
	})
	if err := u.queue.Schedule(ctx, id, platform, post.ScheduledAt); err != nil {
		// The post row exists; the worker's queue is the only thing missing.
		// Surface the error so the client can retry the schedule.
		return nil, fmt.Errorf("enqueueing post %d: %w", id, err)
	}

	logger.GetLogger().
		WithField("postId", id).
		WithField("platform", platform).
		WithField("scheduledAt", post.ScheduledAt).
		Info("Post scheduled")
	return u.posts.GetByID(ctx, id)
}

func (u *scheduleUsecase) ListPosts(ctx context.Context, userID, status string, limit int) ([]*model.ScheduledPost, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return u.posts.List(ctx, userID, status, limit)
}

func (u *scheduleUsecase) GetPost(ctx context.Context, userID string, id int64) (*model.ScheduledPost, error) {
	post, err := u.posts.GetByIDForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}
	return post, nil
}

func (u *scheduleUsecase) GetPostLogs(ctx context.Context, userID string, id int64) ([]*model.UploadLog, error) {
	if _, err := u.GetPost(ctx, userID, id); err != nil {
		return nil, err
	}
	return u.logs.ListByPost(ctx, id, 0)
}

// CancelPost performs the conditional PENDING -> CANCELLED transition. A post
// that a worker already claimed keeps uploading; callers get ErrNotCancellable.
func (u *scheduleUsecase) CancelPost(ctx context.Context, userID string, id int64) error {
	post, err := u.posts.GetByIDForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if post == nil {
		return ErrPostNotFound
	}

	cancelled, err := u.posts.Cancel(ctx, id, userID)
	if err != nil {
		return err
	}
	if !cancelled {
		return ErrNotCancellable
	}

	// Queue removal is best effort; a claim racing this cancel finds the
	// status flipped and no-ops anyway.
	if err := u.queue.Cancel(ctx, id, post.Platform); err != nil {
		logger.GetLogger().WithField("postId", id).WithField("error", err).Warn("Failed to remove cancelled post from queue")
	}
	_ = u.logs.Append(ctx, &model.UploadLog{
		PostID:  id,
		Event:   model.LogEventCancelled,
		Attempt: post.AttemptCount,
	})
	post.Status = model.PostStatusCancelled
	u.hub.BroadcastPostStatus(post)
	return nil
}

func (u *scheduleUsecase) ListAccounts(ctx context.Context, userID string) ([]*model.ConnectedAccount, error) {
	return u.accounts.GetByUser(ctx, userID)
}

func (u *scheduleUsecase) DisconnectAccount(ctx context.Context, userID string, id int64) error {
	ok, err := u.accounts.Deactivate(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	return nil
}

func (u *scheduleUsecase) StartConnect(ctx context.Context, platform string) (string, string, error) {
	p, ok := model.ParsePlatform(platform)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	publisher := u.publishers[p]
	if publisher == nil {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	state := uuid.NewString()
	authURL, err := publisher.AuthorizeURL(ctx, state)
	if err != nil {
		return "", "", err
	}
	return authURL, state, nil
}

func (u *scheduleUsecase) ConnectAccount(ctx context.Context, userID string, req *dto.ConnectAccountRequest) (*model.ConnectedAccount, error) {
	platform, ok := model.ParsePlatform(req.Platform)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, req.Platform)
	}
	publisher := u.publishers[platform]
	if publisher == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, req.Platform)
	}

	result, err := publisher.ExchangeCode(ctx, req.Code, req.State)
	if err != nil {
		return nil, err
	}

	accessEnc, err := u.sealer.Seal(result.AccessToken)
	if err != nil {
		return nil, err
	}
	acct := &model.ConnectedAccount{
		UserID:            userID,
		Platform:          platform,
		ExternalAccountID: result.ExternalAccountID,
		DisplayName:       result.DisplayName,
		AvatarURL:         result.AvatarURL,
		AccessTokenEnc:    accessEnc,
		TokenExpiresAt:    result.ExpiresAt,
		TokenKind:         result.Kind,
		IsActive:          true,
	}
	if result.RefreshToken != "" {
		refreshEnc, err := u.sealer.Seal(result.RefreshToken)
		if err != nil {
			return nil, err
		}
		acct.RefreshTokenEnc = &refreshEnc
	}

	id, err := u.accounts.Upsert(ctx, acct)
	if err != nil {
		return nil, err
	}
	logger.GetLogger().
		WithField("accountId", id).
		WithField("platform", platform).
		Info("Account connected")
	return u.accounts.GetByID(ctx, id)
}
