package model

import "time"

// Platform identifies one of the supported social networks.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{PlatformYouTube, PlatformTikTok, PlatformInstagram}

// ParsePlatform normalizes a user-supplied platform name.
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(s) {
	case PlatformYouTube, PlatformTikTok, PlatformInstagram:
		return Platform(s), true
	}
	return "", false
}

// Scheduled post lifecycle. SUCCESS, FAILED and CANCELLED are terminal.
const (
	PostStatusPending   = "PENDING"
	PostStatusUploading = "UPLOADING"
	PostStatusSuccess   = "SUCCESS"
	PostStatusFailed    = "FAILED"
	PostStatusCancelled = "CANCELLED"
)

// Token kinds; only Instagram distinguishes between the two.
const (
	TokenKindShortLived = "short_lived"
	TokenKindLongLived  = "long_lived"
)

// ConnectedAccount is one external social identity linked to one user.
// Tokens are stored encrypted (versioned AES-GCM envelopes), never plaintext.
type ConnectedAccount struct {
	ID                int64     `json:"id"`
	UserID            string    `json:"user_id"`
	Platform          Platform  `json:"platform"`
	ExternalAccountID string    `json:"external_account_id"`
	DisplayName       string    `json:"display_name"`
	AvatarURL         string    `json:"avatar_url,omitempty"`
	AccessTokenEnc    string    `json:"-"`
	RefreshTokenEnc   *string   `json:"-"`
	TokenExpiresAt    time.Time `json:"token_expires_at"`
	TokenKind         string    `json:"token_kind"`
	IsActive          bool      `json:"is_active"`
	NeedsReauth       bool      `json:"needs_reauth"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ScheduledPost is one request to publish one video to one account at one time.
// ExternalPostID doubles as the idempotency marker: once set, no further
// upload may ever be attempted for this post.
type ScheduledPost struct {
	ID             int64             `json:"id"`
	UserID         string            `json:"user_id"`
	AccountID      int64             `json:"account_id"`
	Platform       Platform          `json:"platform"`
	VideoKey       string            `json:"video_key"`
	Title          string            `json:"title,omitempty"`
	Caption        string            `json:"caption,omitempty"`
	PublishOptions map[string]string `json:"publish_options,omitempty"`
	ScheduledAt    time.Time         `json:"scheduled_at"`
	Status         string            `json:"status"`
	ExternalPostID *string           `json:"external_post_id,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	Progress       int               `json:"progress"`
	AttemptCount   int               `json:"attempt_count"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Terminal reports whether no further transition may leave the current status.
func (p *ScheduledPost) Terminal() bool {
	switch p.Status {
	case PostStatusSuccess, PostStatusFailed, PostStatusCancelled:
		return true
	}
	return false
}

// Upload log event names, written append-only during worker execution.
const (
	LogEventQueued             = "queued"
	LogEventTokenRefreshed     = "token_refreshed"
	LogEventTokenRefreshFailed = "token_refresh_failed"
	LogEventUploadStarted      = "upload_started"
	LogEventUploadProgress     = "upload_progress"
	LogEventUploadComplete     = "upload_complete"
	LogEventPublishSuccess     = "publish_success"
	LogEventPublishFailed      = "publish_failed"
	LogEventCancelled          = "cancelled"
	LogEventQuotaExceeded      = "quota_exceeded"
	LogEventRescheduled        = "rescheduled"
)

// UploadLog is an append-only audit entry attached to a scheduled post.
type UploadLog struct {
	ID        string                 `json:"id,omitempty"`
	PostID    int64                  `json:"post_id"`
	Event     string                 `json:"event"`
	Attempt   int                    `json:"attempt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Notification is a user-facing message produced on publish success or
// terminal failure.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
