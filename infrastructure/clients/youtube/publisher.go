package youtube

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/cache"
	"social-publisher/infrastructure/logger"
)

// Publisher uploads videos to YouTube through the Data API v3 resumable
// upload protocol and manages the OAuth credential lifecycle.
type Publisher struct {
	oauthConfig *oauth2.Config
	quota       *cache.DailyQuota
	now         func() time.Time
}

func NewPublisher(clientID, clientSecret, redirectURI string, quota *cache.DailyQuota) *Publisher {
	return &Publisher{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes: []string{
				youtube.YoutubeScope,
				youtube.YoutubeUploadScope,
				youtube.YoutubeForceSslScope,
			},
			Endpoint: google.Endpoint,
		},
		quota: quota,
		now:   time.Now,
	}
}

func (p *Publisher) Platform() model.Platform { return model.PlatformYouTube }

// Publish reserves daily quota, then runs the resumable upload. The video
// becomes visible under the privacy status from the publish options
// (private when unset).
func (p *Publisher) Publish(ctx context.Context, req *repository.PublishRequest) (string, error) {
	now := p.now()
	if err := p.quota.Reserve(ctx, now); err != nil {
		return "", err
	}

	service, err := p.serviceFor(ctx, req.AccessToken)
	if err != nil {
		_ = p.quota.Release(ctx, now)
		return "", err
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Post.Title,
			Description: req.Post.Caption,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: optionOrDefault(req.Options, "privacy_status", "private"),
		},
	}
	if categoryID := req.Options["category_id"]; categoryID != "" {
		video.Snippet.CategoryId = categoryID
	}
	if tags := req.Options["tags"]; tags != "" {
		video.Snippet.Tags = strings.Split(tags, ",")
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video).
		Media(req.Video.Reader, googleapi.ContentType(req.Video.MimeType))
	if req.Progress != nil && req.Video.Size > 0 {
		size := req.Video.Size
		call = call.ProgressUpdater(func(current, total int64) {
			req.Progress(int(current * 100 / size))
		})
	}

	uploaded, err := call.Context(ctx).Do()
	if err != nil {
		if isQuotaExceeded(err) {
			// The platform's budget is spent regardless of our reservation,
			// so the reserved units stay consumed.
			logger.GetLogger().WithField("postId", req.Post.ID).Warn("YouTube reported quota exhausted")
			return "", &repository.QuotaDeferredError{RetryAt: nextQuotaReset(now)}
		}
		_ = p.quota.Release(ctx, now)
		if isAuthError(err) {
			return "", fmt.Errorf("youtube upload: %w", repository.ErrReauthRequired)
		}
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	return uploaded.Id, nil
}

// AuthorizeURL builds the Google consent URL. Offline access is required or
// no refresh token comes back.
func (p *Publisher) AuthorizeURL(ctx context.Context, state string) (string, error) {
	return p.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ExchangeCode completes the OAuth consent flow and resolves the channel the
// tokens belong to.
func (p *Publisher) ExchangeCode(ctx context.Context, code, state string) (*repository.AuthResult, error) {
	token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("youtube code exchange: %w", err)
	}

	service, err := p.serviceFor(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	channels, err := service.Channels.List([]string{"id", "snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube channel lookup: %w", err)
	}
	if len(channels.Items) == 0 {
		return nil, errors.New("youtube: no channel on authorized account")
	}
	channel := channels.Items[0]

	result := &repository.AuthResult{
		TokenPair: repository.TokenPair{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.Expiry,
			Kind:         model.TokenKindShortLived,
		},
		ExternalAccountID: channel.Id,
		DisplayName:       channel.Snippet.Title,
	}
	if channel.Snippet.Thumbnails != nil && channel.Snippet.Thumbnails.Default != nil {
		result.AvatarURL = channel.Snippet.Thumbnails.Default.Url
	}
	return result, nil
}

// Refresh trades the refresh token for a new access token. Google keeps the
// refresh token stable, so the returned pair carries the one passed in unless
// the endpoint rotated it.
func (p *Publisher) Refresh(ctx context.Context, accessToken, refreshToken string) (*repository.TokenPair, error) {
	if refreshToken == "" {
		return nil, repository.ErrReauthRequired
	}
	source := p.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("youtube refresh: %w", repository.ErrReauthRequired)
		}
		return nil, fmt.Errorf("youtube refresh: %w", err)
	}
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	return &repository.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    token.Expiry,
		Kind:         model.TokenKindShortLived,
	}, nil
}

func (p *Publisher) serviceFor(ctx context.Context, accessToken string) (*youtube.Service, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	service, err := youtube.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	return service, nil
}

func isQuotaExceeded(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 403 {
		return false
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "quotaExceeded", "dailyLimitExceeded", "uploadLimitExceeded":
			return true
		}
	}
	return false
}

func isAuthError(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 401
}

// nextQuotaReset is shortly after UTC midnight, when YouTube resets its daily
// quota buckets.
func nextQuotaReset(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 15, 0, 0, time.UTC)
}

func optionOrDefault(options map[string]string, key, fallback string) string {
	if v := options[key]; v != "" {
		return v
	}
	return fallback
}

var _ repository.IPlatformPublisher = (*Publisher)(nil)
