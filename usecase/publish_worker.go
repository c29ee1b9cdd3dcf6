package usecase

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/crypto"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/pubsub"
	"social-publisher/infrastructure/realtime"
	"social-publisher/infrastructure/servicebus"
)

const presignedIngestTTL = 15 * time.Minute

// WorkerConfig tunes one platform's publish loop.
type WorkerConfig struct {
	PollInterval time.Duration
	Concurrency  int
	MaxAttempts  int
	RetryBackoff time.Duration
	// LockDuration bounds how long a claim may sit in UPLOADING before the
	// stall sweep treats its worker as dead. It must outlive the worst-case
	// upload including container polling.
	LockDuration time.Duration
}

// stallBatchSize caps how many stranded posts one sweep re-enqueues.
const stallBatchSize = 50

// PublishWorker drains the per-platform queues and executes uploads exactly
// once per post. All coordination state lives in the database row and the
// fast store, so any number of replicas can run the same loops.
type PublishWorker struct {
	posts         repository.IScheduledPost
	accounts      repository.IConnectedAccount
	queue         repository.IPublishQueue
	logs          repository.IUploadLog
	notifications repository.INotification
	videos        repository.IVideoStore
	refresher     ITokenRefresher
	sealer        *crypto.TokenSealer
	publishers    map[model.Platform]repository.IPlatformPublisher
	events        pubsub.IPublishEvents
	alerts        servicebus.IAlertSender
	hub           *realtime.Hub
	cfg           WorkerConfig
	now           func() time.Time
}

func NewPublishWorker(
	posts repository.IScheduledPost,
	accounts repository.IConnectedAccount,
	queue repository.IPublishQueue,
	logs repository.IUploadLog,
	notifications repository.INotification,
	videos repository.IVideoStore,
	refresher ITokenRefresher,
	sealer *crypto.TokenSealer,
	publishers map[model.Platform]repository.IPlatformPublisher,
	events pubsub.IPublishEvents,
	alerts servicebus.IAlertSender,
	hub *realtime.Hub,
	cfg WorkerConfig,
) *PublishWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Minute
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 30 * time.Minute
	}
	return &PublishWorker{
		posts:         posts,
		accounts:      accounts,
		queue:         queue,
		logs:          logs,
		notifications: notifications,
		videos:        videos,
		refresher:     refresher,
		sealer:        sealer,
		publishers:    publishers,
		events:        events,
		alerts:        alerts,
		hub:           hub,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Run polls one platform's queue until the context ends. Claimed posts are
// processed concurrently up to the platform's concurrency. A slower second
// ticker runs the stall sweep so posts whose claim died with a worker get
// re-delivered.
func (w *PublishWorker) Run(ctx context.Context, platform model.Platform) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	stallTicker := time.NewTicker(w.stallInterval())
	defer stallTicker.Stop()

	logger.GetLogger().WithField("platform", platform).Info("Publish worker started")
	for {
		select {
		case <-ctx.Done():
			logger.GetLogger().WithField("platform", platform).Info("Publish worker stopped")
			return ctx.Err()
		case <-stallTicker.C:
			if err := w.RecoverStalled(ctx, platform); err != nil {
				logger.GetLogger().WithField("platform", platform).WithField("error", err).Error("Stall recovery sweep failed")
			}
			continue
		case <-ticker.C:
		}

		w.drainOnce(ctx, platform)
	}
}

func (w *PublishWorker) stallInterval() time.Duration {
	interval := w.cfg.LockDuration / 2
	if interval < w.cfg.PollInterval {
		interval = w.cfg.PollInterval
	}
	return interval
}

// drainOnce claims one batch and processes it. Claimed ids ride along with a
// claim error and are already off the queue, so they are processed anyway;
// dropping them would strand the posts until the stall sweep.
func (w *PublishWorker) drainOnce(ctx context.Context, platform model.Platform) {
	ids, err := w.queue.Claim(ctx, platform, w.now(), w.cfg.Concurrency)
	if err != nil {
		logger.GetLogger().WithField("platform", platform).WithField("error", err).Error("Queue claim failed")
	}
	if len(ids) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		postID := id
		g.Go(func() error {
			if err := w.Process(gctx, postID); err != nil {
				logger.GetLogger().WithField("postId", postID).WithField("error", err).Error("Processing post failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// RecoverStalled re-enqueues posts that lost their queue entry without
// reaching a terminal state: claims consumed by a worker that died, or
// reverts whose re-enqueue failed. Scheduling goes through ZADD NX, so one
// stall earns at most one re-queue until the entry is claimed again.
func (w *PublishWorker) RecoverStalled(ctx context.Context, platform model.Platform) error {
	cutoff := w.now().Add(-w.cfg.LockDuration)
	stalled, err := w.posts.ListStalled(ctx, platform, cutoff, stallBatchSize)
	if err != nil {
		return err
	}
	for _, post := range stalled {
		if err := w.queue.Schedule(ctx, post.ID, platform, w.now()); err != nil {
			logger.GetLogger().WithField("postId", post.ID).WithField("error", err).Error("Requeueing stalled post failed")
			continue
		}
		logger.GetLogger().
			WithField("postId", post.ID).
			WithField("status", post.Status).
			WithField("attemptCount", post.AttemptCount).
			Warn("Requeued stalled post")
	}
	return nil
}

// Process executes one queued post end to end. It is safe to call with ids
// that were already published, cancelled or claimed elsewhere; those paths
// are silent no-ops.
func (w *PublishWorker) Process(ctx context.Context, postID int64) error {
	post, claimed, err := w.posts.ClaimForUpload(ctx, postID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	acct, err := w.accounts.GetByID(ctx, post.AccountID)
	if err != nil {
		return w.retryLater(ctx, post, fmt.Errorf("loading account %d: %w", post.AccountID, err))
	}
	if acct == nil || !acct.IsActive {
		return w.failTerminal(ctx, post, "connected account is gone or inactive")
	}

	accessToken, err := w.freshAccessToken(ctx, post, acct)
	if err != nil {
		if errors.Is(err, repository.ErrReauthRequired) {
			w.appendLog(ctx, post, model.LogEventTokenRefreshFailed, map[string]interface{}{
				"reason": "needs_reauth",
			})
			return w.failTerminal(ctx, post, "account requires re-authentication")
		}
		return w.retryLater(ctx, post, err)
	}

	publisher, ok := w.publishers[post.Platform]
	if !ok {
		return w.failTerminal(ctx, post, fmt.Sprintf("no publisher for platform %s", post.Platform))
	}

	video, err := w.openVideo(ctx, post)
	if err != nil {
		return w.retryLater(ctx, post, fmt.Errorf("opening video %q: %w", post.VideoKey, err))
	}
	defer video.Close()

	w.appendLog(ctx, post, model.LogEventUploadStarted, map[string]interface{}{
		"video_key": post.VideoKey,
		"size":      video.Size,
	})
	w.broadcast(post)

	externalID, err := publisher.Publish(ctx, &repository.PublishRequest{
		Post:        post,
		Account:     acct,
		AccessToken: accessToken,
		Video:       *video,
		Options:     post.PublishOptions,
		Progress:    w.progressFunc(ctx, post),
	})
	if err != nil {
		if deferred, ok := repository.IsQuotaDeferred(err); ok {
			return w.deferForQuota(ctx, post, deferred.RetryAt)
		}
		if errors.Is(err, repository.ErrReauthRequired) {
			if flagErr := w.accounts.SetNeedsReauth(ctx, acct.ID); flagErr != nil {
				logger.GetLogger().WithField("accountId", acct.ID).WithField("error", flagErr).Error("Failed to flag account for reauth")
			}
			return w.failTerminal(ctx, post, "platform rejected credentials mid-upload")
		}
		return w.retryLater(ctx, post, err)
	}

	return w.succeed(ctx, post, externalID)
}

// freshAccessToken refreshes the account when its token is inside the refresh
// window and returns the decrypted access token of the freshest row.
func (w *PublishWorker) freshAccessToken(ctx context.Context, post *model.ScheduledPost, acct *model.ConnectedAccount) (string, error) {
	if acct.NeedsReauth {
		return "", repository.ErrReauthRequired
	}
	if w.refresher.IsExpiringSoon(acct) {
		if err := w.refresher.RefreshAccount(ctx, acct); err != nil {
			return "", err
		}
		refreshed, err := w.accounts.GetByID(ctx, acct.ID)
		if err != nil {
			return "", err
		}
		if refreshed == nil || refreshed.NeedsReauth {
			return "", repository.ErrReauthRequired
		}
		*acct = *refreshed
		w.appendLog(ctx, post, model.LogEventTokenRefreshed, map[string]interface{}{
			"expires_at": acct.TokenExpiresAt.Format(time.RFC3339),
		})
	}
	return w.sealer.Open(acct.AccessTokenEnc)
}

// openVideo produces one fresh source per attempt. Instagram ingests by URL,
// the other platforms stream the object through the worker.
func (w *PublishWorker) openVideo(ctx context.Context, post *model.ScheduledPost) (*repository.VideoSource, error) {
	if post.Platform == model.PlatformInstagram {
		publicURL, err := w.videos.GetPublicURL(ctx, post.VideoKey, presignedIngestTTL)
		if err != nil {
			return nil, err
		}
		return &repository.VideoSource{PublicURL: publicURL}, nil
	}

	reader, size, err := w.videos.GetStream(ctx, post.VideoKey)
	if err != nil {
		return nil, err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(post.VideoKey))
	if mimeType == "" {
		mimeType = "video/mp4"
	}
	return &repository.VideoSource{Reader: reader, Size: size, MimeType: mimeType}, nil
}

func (w *PublishWorker) progressFunc(ctx context.Context, post *model.ScheduledPost) func(int) {
	lastReported := 0
	return func(pct int) {
		if pct < lastReported+10 && pct != 100 {
			return
		}
		lastReported = pct
		if err := w.posts.UpdateProgress(ctx, post.ID, pct); err != nil {
			return
		}
		post.Progress = pct
		w.appendLog(ctx, post, model.LogEventUploadProgress, map[string]interface{}{"pct": pct})
		w.broadcast(post)
	}
}

func (w *PublishWorker) succeed(ctx context.Context, post *model.ScheduledPost, externalID string) error {
	if err := w.posts.MarkSuccess(ctx, post.ID, externalID); err != nil {
		return err
	}
	post.Status = model.PostStatusSuccess
	post.ExternalPostID = &externalID
	post.Progress = 100

	w.appendLog(ctx, post, model.LogEventUploadComplete, nil)
	w.appendLog(ctx, post, model.LogEventPublishSuccess, map[string]interface{}{
		"external_post_id": externalID,
	})
	_ = w.notifications.Create(ctx, &model.Notification{
		UserID:  post.UserID,
		Title:   "Video published",
		Message: fmt.Sprintf("Your video was published to %s.", post.Platform),
	})
	w.events.PublishOutcome(ctx, pubsub.OutcomeEvent{
		PostID:         post.ID,
		UserID:         post.UserID,
		Platform:       string(post.Platform),
		Status:         post.Status,
		ExternalPostID: externalID,
	})
	w.broadcast(post)

	logger.GetLogger().
		WithField("postId", post.ID).
		WithField("platform", post.Platform).
		WithField("externalPostId", externalID).
		Info("Post published")
	return nil
}

// deferForQuota pushes the post past the platform's quota reset without
// spending an attempt.
func (w *PublishWorker) deferForQuota(ctx context.Context, post *model.ScheduledPost, retryAt time.Time) error {
	if err := w.posts.DeferForQuota(ctx, post.ID, retryAt); err != nil {
		return err
	}
	if err := w.queue.Reschedule(ctx, post.ID, post.Platform, retryAt); err != nil {
		return err
	}
	w.appendLog(ctx, post, model.LogEventQuotaExceeded, map[string]interface{}{
		"retry_at": retryAt.Format(time.RFC3339),
	})
	w.appendLog(ctx, post, model.LogEventRescheduled, map[string]interface{}{
		"retry_at": retryAt.Format(time.RFC3339),
		"reason":   "quota_exhausted",
	})
	post.Status = model.PostStatusPending
	post.AttemptCount--
	w.broadcast(post)

	logger.GetLogger().
		WithField("postId", post.ID).
		WithField("retryAt", retryAt).
		Warn("Daily quota exhausted, post deferred")
	return nil
}

// retryLater re-enqueues after a transient failure, or runs the exhaustion
// path once the attempt budget is spent.
func (w *PublishWorker) retryLater(ctx context.Context, post *model.ScheduledPost, cause error) error {
	if post.AttemptCount >= w.cfg.MaxAttempts {
		w.appendLog(ctx, post, model.LogEventPublishFailed, map[string]interface{}{
			"reason": "max_retries_exhausted",
			"error":  cause.Error(),
		})
		return w.exhaust(ctx, post, cause)
	}

	// Exponential backoff keyed on attempts already spent.
	delay := w.cfg.RetryBackoff * time.Duration(1<<(post.AttemptCount-1))
	retryAt := w.now().Add(delay)
	if err := w.posts.RevertToPending(ctx, post.ID, retryAt); err != nil {
		return err
	}
	if err := w.queue.Reschedule(ctx, post.ID, post.Platform, retryAt); err != nil {
		return err
	}
	w.appendLog(ctx, post, model.LogEventRescheduled, map[string]interface{}{
		"retry_at": retryAt.Format(time.RFC3339),
		"error":    cause.Error(),
	})
	post.Status = model.PostStatusPending
	w.broadcast(post)

	logger.GetLogger().
		WithField("postId", post.ID).
		WithField("attempt", post.AttemptCount).
		WithField("retryAt", retryAt).
		WithField("error", cause).
		Warn("Publish attempt failed, retrying")
	return nil
}

func (w *PublishWorker) exhaust(ctx context.Context, post *model.ScheduledPost, cause error) error {
	reason := fmt.Sprintf("gave up after %d attempts: %v", post.AttemptCount, cause)
	return w.finishFailed(ctx, post, reason)
}

func (w *PublishWorker) failTerminal(ctx context.Context, post *model.ScheduledPost, reason string) error {
	w.appendLog(ctx, post, model.LogEventPublishFailed, map[string]interface{}{
		"reason": reason,
	})
	return w.finishFailed(ctx, post, reason)
}

func (w *PublishWorker) finishFailed(ctx context.Context, post *model.ScheduledPost, reason string) error {
	if err := w.posts.MarkFailed(ctx, post.ID, reason); err != nil {
		return err
	}
	post.Status = model.PostStatusFailed
	post.ErrorMessage = &reason

	_ = w.notifications.Create(ctx, &model.Notification{
		UserID:  post.UserID,
		Title:   "Publish failed",
		Message: fmt.Sprintf("Your scheduled post to %s could not be published: %s", post.Platform, reason),
	})
	w.events.PublishOutcome(ctx, pubsub.OutcomeEvent{
		PostID:   post.ID,
		UserID:   post.UserID,
		Platform: string(post.Platform),
		Status:   post.Status,
		Reason:   reason,
	})
	w.alerts.SendFailureAlert(ctx, servicebus.FailureAlert{
		PostID:   post.ID,
		UserID:   post.UserID,
		Platform: string(post.Platform),
		Reason:   reason,
		Attempts: post.AttemptCount,
	})
	w.broadcast(post)

	logger.GetLogger().
		WithField("postId", post.ID).
		WithField("platform", post.Platform).
		WithField("reason", reason).
		Error("Post failed permanently")
	return nil
}

func (w *PublishWorker) appendLog(ctx context.Context, post *model.ScheduledPost, event string, metadata map[string]interface{}) {
	_ = w.logs.Append(ctx, &model.UploadLog{
		PostID:   post.ID,
		Event:    event,
		Attempt:  post.AttemptCount,
		Metadata: metadata,
	})
}

func (w *PublishWorker) broadcast(post *model.ScheduledPost) {
	if w.hub != nil {
		w.hub.BroadcastPostStatus(post)
	}
}
