package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

const (
	defaultAuthBase  = "https://api.instagram.com"
	defaultGraphBase = "https://graph.instagram.com"

	pollInterval = 5 * time.Second
	maxPolls     = 60
)

// Publisher implements Instagram Reels publishing through the Graph API
// container flow: the video is ingested by URL, processed server-side in a
// media container, then published once the container is FINISHED.
type Publisher struct {
	appID       string
	appSecret   string
	redirectURI string
	httpClient  *http.Client

	authBase  string
	graphBase string
	sleep     func(time.Duration)
}

func NewPublisher(appID, appSecret, redirectURI string) *Publisher {
	return &Publisher{
		appID:       appID,
		appSecret:   appSecret,
		redirectURI: redirectURI,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		authBase:    defaultAuthBase,
		graphBase:   defaultGraphBase,
		sleep:       time.Sleep,
	}
}

func (p *Publisher) Platform() model.Platform { return model.PlatformInstagram }

type authorizeParams struct {
	ClientID     string `url:"client_id"`
	RedirectURI  string `url:"redirect_uri"`
	Scope        string `url:"scope"`
	ResponseType string `url:"response_type"`
	State        string `url:"state"`
}

func (p *Publisher) AuthorizeURL(ctx context.Context, state string) (string, error) {
	values, err := query.Values(authorizeParams{
		ClientID:     p.appID,
		RedirectURI:  p.redirectURI,
		Scope:        "instagram_business_basic,instagram_business_content_publish",
		ResponseType: "code",
		State:        state,
	})
	if err != nil {
		return "", err
	}
	return p.authBase + "/oauth/authorize?" + values.Encode(), nil
}

// ExchangeCode redeems the code for a short-lived token, immediately trades
// it for the long-lived (60 day) variant and resolves the profile.
func (p *Publisher) ExchangeCode(ctx context.Context, code, state string) (*repository.AuthResult, error) {
	form := url.Values{
		"client_id":     {p.appID},
		"client_secret": {p.appSecret},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {p.redirectURI},
		"code":          {code},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.authBase+"/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var shortLived struct {
		AccessToken string `json:"access_token"`
		UserID      json.Number `json:"user_id"`
	}
	if err := p.do(httpReq, &shortLived); err != nil {
		return nil, fmt.Errorf("instagram code exchange: %w", err)
	}

	longLived, err := p.exchangeLongLived(ctx, shortLived.AccessToken)
	if err != nil {
		return nil, err
	}

	username, err := p.username(ctx, longLived.AccessToken)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Instagram profile lookup failed, linking without profile")
	}
	return &repository.AuthResult{
		TokenPair: repository.TokenPair{
			AccessToken: longLived.AccessToken,
			ExpiresAt:   time.Now().Add(time.Duration(longLived.ExpiresIn) * time.Second),
			Kind:        model.TokenKindLongLived,
		},
		ExternalAccountID: shortLived.UserID.String(),
		DisplayName:       username,
	}, nil
}

type longLivedToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *Publisher) exchangeLongLived(ctx context.Context, shortLived string) (*longLivedToken, error) {
	u := fmt.Sprintf("%s/access_token?grant_type=ig_exchange_token&client_secret=%s&access_token=%s",
		p.graphBase, url.QueryEscape(p.appSecret), url.QueryEscape(shortLived))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var token longLivedToken
	if err := p.do(httpReq, &token); err != nil {
		return nil, fmt.Errorf("instagram long-lived exchange: %w", err)
	}
	return &token, nil
}

// Refresh renews the long-lived token via ig_refresh_token. Instagram issues
// no refresh token; once the current token is rejected only a full re-consent
// recovers the account.
func (p *Publisher) Refresh(ctx context.Context, accessToken, refreshToken string) (*repository.TokenPair, error) {
	u := fmt.Sprintf("%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		p.graphBase, url.QueryEscape(accessToken))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var token longLivedToken
	if err := p.do(httpReq, &token); err != nil {
		return nil, fmt.Errorf("instagram refresh: %w", repository.ErrReauthRequired)
	}
	return &repository.TokenPair{
		AccessToken: token.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
		Kind:        model.TokenKindLongLived,
	}, nil
}

// Publish creates a media container from the presigned video URL, waits for
// server-side processing and publishes the finished container.
func (p *Publisher) Publish(ctx context.Context, req *repository.PublishRequest) (string, error) {
	if req.Video.PublicURL == "" {
		return "", fmt.Errorf("instagram: post %d has no ingest URL", req.Post.ID)
	}
	igUserID := req.Account.ExternalAccountID

	containerID, err := p.createContainer(ctx, igUserID, req)
	if err != nil {
		return "", err
	}
	if req.Progress != nil {
		req.Progress(25)
	}
	if err := p.awaitContainer(ctx, containerID, req); err != nil {
		return "", err
	}
	return p.publishContainer(ctx, igUserID, containerID, req.AccessToken)
}

func (p *Publisher) createContainer(ctx context.Context, igUserID string, req *repository.PublishRequest) (string, error) {
	form := url.Values{
		"media_type":   {"REELS"},
		"video_url":    {req.Video.PublicURL},
		"caption":      {req.Post.Caption},
		"access_token": {req.AccessToken},
	}
	if v := req.Options["share_to_feed"]; v != "" {
		form.Set("share_to_feed", v)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v21.0/%s/media", p.graphBase, igUserID), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var res struct {
		ID string `json:"id"`
	}
	if err := p.do(httpReq, &res); err != nil {
		return "", fmt.Errorf("instagram container create: %w", err)
	}
	if res.ID == "" {
		return "", fmt.Errorf("instagram container create: empty container id")
	}
	return res.ID, nil
}

func (p *Publisher) awaitContainer(ctx context.Context, containerID string, req *repository.PublishRequest) error {
	for i := 0; i < maxPolls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		u := fmt.Sprintf("%s/v21.0/%s?fields=status_code&access_token=%s",
			p.graphBase, containerID, url.QueryEscape(req.AccessToken))
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		var res struct {
			StatusCode string `json:"status_code"`
		}
		if err := p.do(httpReq, &res); err != nil {
			return fmt.Errorf("instagram container status: %w", err)
		}
		switch res.StatusCode {
		case "FINISHED":
			if req.Progress != nil {
				req.Progress(90)
			}
			return nil
		case "ERROR":
			return fmt.Errorf("instagram container %s failed processing", containerID)
		case "EXPIRED":
			return fmt.Errorf("instagram container %s expired before publish", containerID)
		}
		p.sleep(pollInterval)
	}
	return fmt.Errorf("instagram container %s still processing after %d polls", containerID, maxPolls)
}

func (p *Publisher) publishContainer(ctx context.Context, igUserID, containerID, accessToken string) (string, error) {
	form := url.Values{
		"creation_id":  {containerID},
		"access_token": {accessToken},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v21.0/%s/media_publish", p.graphBase, igUserID), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var res struct {
		ID string `json:"id"`
	}
	if err := p.do(httpReq, &res); err != nil {
		return "", fmt.Errorf("instagram publish: %w", err)
	}
	return res.ID, nil
}

func (p *Publisher) username(ctx context.Context, accessToken string) (string, error) {
	u := fmt.Sprintf("%s/me?fields=id,username&access_token=%s", p.graphBase, url.QueryEscape(accessToken))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	var res struct {
		Username string `json:"username"`
	}
	if err := p.do(httpReq, &res); err != nil {
		return "", err
	}
	return res.Username, nil
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (p *Publisher) do(req *http.Request, out interface{}) error {
	res, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode >= 400 {
		var ge graphError
		if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
			if ge.Error.Code == 190 { // invalid or expired token
				return repository.ErrReauthRequired
			}
			return fmt.Errorf("graph api: %s (%s, code %d)", ge.Error.Message, ge.Error.Type, ge.Error.Code)
		}
		return fmt.Errorf("graph api: status %d", res.StatusCode)
	}
	return json.Unmarshal(body, out)
}

var _ repository.IPlatformPublisher = (*Publisher)(nil)
