package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"social-publisher/domain/model"
)

// VideoSource is one fresh read of the source video. A source must never be
// reused across attempts; a failed upload consumes the reader.
type VideoSource struct {
	Reader    io.ReadCloser
	Size      int64
	MimeType  string
	PublicURL string // time-boxed presigned URL, set only for URL-based ingest
}

// Close releases the underlying stream when present.
func (v *VideoSource) Close() {
	if v.Reader != nil {
		_ = v.Reader.Close()
	}
}

// PublishRequest carries everything one upload attempt needs. AccessToken is
// already decrypted by the caller.
type PublishRequest struct {
	Post        *model.ScheduledPost
	Account     *model.ConnectedAccount
	AccessToken string
	Video       VideoSource
	Options     map[string]string
	// Progress, when set, receives coarse completion percentages.
	Progress func(pct int)
}

// TokenPair is a decrypted credential set returned by auth exchange or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string // empty for platforms without a refresh grant
	ExpiresAt    time.Time
	Kind         string // model.TokenKindShortLived or model.TokenKindLongLived
}

// AuthResult is the outcome of completing an OAuth code exchange.
type AuthResult struct {
	TokenPair
	ExternalAccountID string
	DisplayName       string
	AvatarURL         string
}

// IPlatformPublisher is implemented once per platform. Protocol details
// (resumable PUT, chunk ranges, container polling) stay private to each
// implementation.
type IPlatformPublisher interface {
	Platform() model.Platform
	// Publish uploads the video and returns the external post id.
	Publish(ctx context.Context, req *PublishRequest) (string, error)
	// AuthorizeURL builds the provider consent URL for the given state,
	// stashing any per-flow secrets (PKCE verifier) for ExchangeCode.
	AuthorizeURL(ctx context.Context, state string) (string, error)
	// ExchangeCode completes an already-consented OAuth authorization code.
	ExchangeCode(ctx context.Context, code, state string) (*AuthResult, error)
	// Refresh obtains a new credential pair. Platforms without a refresh
	// grant exchange the current access token instead.
	Refresh(ctx context.Context, accessToken, refreshToken string) (*TokenPair, error)
}

// ErrReauthRequired marks credential failures that no retry can fix; the
// account must be re-authenticated by the user.
var ErrReauthRequired = errors.New("account requires re-authentication")

// QuotaDeferredError signals that the platform's daily upload budget is spent
// (pre-flight or platform-reported). Not a failure: the worker reschedules
// for RetryAt without consuming a retry attempt.
type QuotaDeferredError struct {
	RetryAt time.Time
}

func (e *QuotaDeferredError) Error() string {
	return fmt.Sprintf("daily upload quota exhausted, retry at %s", e.RetryAt.Format(time.RFC3339))
}

// IsQuotaDeferred extracts a QuotaDeferredError from an error chain.
func IsQuotaDeferred(err error) (*QuotaDeferredError, bool) {
	var qe *QuotaDeferredError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
