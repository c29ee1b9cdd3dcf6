package repository

import (
	"context"
	"time"

	"social-publisher/domain/model"
)

// IConnectedAccount defines persistence for linked social accounts.
type IConnectedAccount interface {
	// Upsert creates the account or refreshes tokens/profile on the unique
	// (user_id, platform, external_account_id) key. Returns the row id.
	Upsert(ctx context.Context, acct *model.ConnectedAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.ConnectedAccount, error)
	GetByUser(ctx context.Context, userID string) ([]*model.ConnectedAccount, error)
	// UpdateTokens replaces the encrypted credential pair and expiry.
	UpdateTokens(ctx context.Context, id int64, accessEnc string, refreshEnc *string, expiresAt time.Time) error
	// SetNeedsReauth flags the account as unusable until the user re-authenticates.
	SetNeedsReauth(ctx context.Context, id int64) error
	// Deactivate soft-deletes the account. Returns false when no active row
	// belonged to the user.
	Deactivate(ctx context.Context, id int64, userID string) (bool, error)
}

// IScheduledPost defines persistence for scheduled posts.
type IScheduledPost interface {
	Create(ctx context.Context, post *model.ScheduledPost) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.ScheduledPost, error)
	GetByIDForUser(ctx context.Context, id int64, userID string) (*model.ScheduledPost, error)
	// List returns the user's posts newest first, optionally filtered by status.
	List(ctx context.Context, userID, status string, limit int) ([]*model.ScheduledPost, error)
	// ClaimForUpload attempts, inside one transaction, to take the exclusive
	// row lock (SKIP LOCKED) on a post still in PENDING or UPLOADING whose
	// idempotency marker is unset, moving it to UPLOADING and bumping the
	// attempt count. Returns (nil, false, nil) when there is nothing to do:
	// row absent, already terminal, external id already set, or locked by a
	// concurrent claimer.
	ClaimForUpload(ctx context.Context, id int64) (*model.ScheduledPost, bool, error)
	// MarkSuccess persists the external post id (idempotency marker) and the
	// SUCCESS status in one statement.
	MarkSuccess(ctx context.Context, id int64, externalPostID string) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	// RevertToPending returns an UPLOADING post to PENDING with a new
	// scheduled time; the attempt spent on the failed upload stays counted.
	RevertToPending(ctx context.Context, id int64, scheduledAt time.Time) error
	// DeferForQuota is RevertToPending plus an attempt refund, for deferrals
	// that are no fault of the post (daily quota exhausted).
	DeferForQuota(ctx context.Context, id int64, scheduledAt time.Time) error
	// ListStalled returns posts whose queue delivery was lost: UPLOADING
	// rows untouched since before the cutoff and PENDING rows overdue past
	// it, idempotency marker still unset. Used by the stall recovery sweep.
	ListStalled(ctx context.Context, platform model.Platform, cutoff time.Time, limit int) ([]*model.ScheduledPost, error)
	// Cancel performs the conditional transition PENDING -> CANCELLED.
	// Returns false when the post had already left the cancellable window.
	Cancel(ctx context.Context, id int64, userID string) (bool, error)
	UpdateProgress(ctx context.Context, id int64, progress int) error
}

// IUploadLog is the append-only audit trail store.
type IUploadLog interface {
	Append(ctx context.Context, entry *model.UploadLog) error
	ListByPost(ctx context.Context, postID int64, limit int) ([]*model.UploadLog, error)
}

// INotification creates user-facing notifications.
type INotification interface {
	Create(ctx context.Context, n *model.Notification) error
}
