package tiktok

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
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
	defaultAuthBase = "https://www.tiktok.com/v2/auth/authorize/"
	defaultAPIBase  = "https://open.tiktokapis.com"

	// TikTok accepts chunks between 5MB and 64MB; 10MB keeps memory per
	// upload bounded while staying well inside the limit.
	chunkSize = 10 * 1024 * 1024

	pkceTTL      = 10 * time.Minute
	pollInterval = 5 * time.Second
	maxPolls     = 60
)

// Publisher implements the TikTok Content Posting API: PKCE authorization,
// chunked FILE_UPLOAD publishing and status polling.
type Publisher struct {
	clientKey    string
	clientSecret string
	redirectURI  string
	store        repository.IFastStore
	httpClient   *http.Client

	authBase string
	apiBase  string
	sleep    func(time.Duration)
}

func NewPublisher(clientKey, clientSecret, redirectURI string, store repository.IFastStore) *Publisher {
	return &Publisher{
		clientKey:    clientKey,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		store:        store,
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
		authBase:     defaultAuthBase,
		apiBase:      defaultAPIBase,
		sleep:        time.Sleep,
	}
}

func (p *Publisher) Platform() model.Platform { return model.PlatformTikTok }

type authorizeParams struct {
	ClientKey           string `url:"client_key"`
	ResponseType        string `url:"response_type"`
	Scope               string `url:"scope"`
	RedirectURI         string `url:"redirect_uri"`
	State               string `url:"state"`
	CodeChallenge       string `url:"code_challenge"`
	CodeChallengeMethod string `url:"code_challenge_method"`
}

// AuthorizeURL generates a PKCE verifier, stashes it under the state for the
// later code exchange and returns the consent URL carrying the S256 challenge.
func (p *Publisher) AuthorizeURL(ctx context.Context, state string) (string, error) {
	verifier, err := newVerifier()
	if err != nil {
		return "", err
	}
	if err := p.store.Set(ctx, pkceKey(state), verifier, pkceTTL); err != nil {
		return "", fmt.Errorf("tiktok: storing pkce verifier: %w", err)
	}

	sum := sha256.Sum256([]byte(verifier))
	values, err := query.Values(authorizeParams{
		ClientKey:           p.clientKey,
		ResponseType:        "code",
		Scope:               "user.info.basic,video.publish",
		RedirectURI:         p.redirectURI,
		State:               state,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(sum[:]),
		CodeChallengeMethod: "S256",
	})
	if err != nil {
		return "", err
	}
	return p.authBase + "?" + values.Encode(), nil
}

type tokenRequest struct {
	ClientKey    string `url:"client_key"`
	ClientSecret string `url:"client_secret"`
	GrantType    string `url:"grant_type"`
	Code         string `url:"code,omitempty"`
	RedirectURI  string `url:"redirect_uri,omitempty"`
	CodeVerifier string `url:"code_verifier,omitempty"`
	RefreshToken string `url:"refresh_token,omitempty"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	OpenID           string `json:"open_id"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode redeems the authorization code together with the verifier
// stored by AuthorizeURL. The verifier is single-use.
func (p *Publisher) ExchangeCode(ctx context.Context, code, state string) (*repository.AuthResult, error) {
	verifier, err := p.store.Get(ctx, pkceKey(state))
	if err == repository.ErrNotFound {
		return nil, fmt.Errorf("tiktok: pkce verifier missing or expired for state %q", state)
	}
	if err != nil {
		return nil, err
	}
	_ = p.store.Delete(ctx, pkceKey(state))

	token, err := p.requestToken(ctx, tokenRequest{
		ClientKey:    p.clientKey,
		ClientSecret: p.clientSecret,
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  p.redirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		return nil, err
	}

	displayName, avatarURL, err := p.userInfo(ctx, token.AccessToken)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("TikTok user info lookup failed, linking without profile")
	}
	return &repository.AuthResult{
		TokenPair: repository.TokenPair{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
			Kind:         model.TokenKindShortLived,
		},
		ExternalAccountID: token.OpenID,
		DisplayName:       displayName,
		AvatarURL:         avatarURL,
	}, nil
}

// Refresh trades the refresh token for a fresh pair; TikTok rotates both.
func (p *Publisher) Refresh(ctx context.Context, accessToken, refreshToken string) (*repository.TokenPair, error) {
	if refreshToken == "" {
		return nil, repository.ErrReauthRequired
	}
	token, err := p.requestToken(ctx, tokenRequest{
		ClientKey:    p.clientKey,
		ClientSecret: p.clientSecret,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	})
	if err != nil {
		if strings.Contains(err.Error(), "invalid_grant") {
			return nil, fmt.Errorf("tiktok refresh: %w", repository.ErrReauthRequired)
		}
		return nil, err
	}
	return &repository.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
		Kind:         model.TokenKindShortLived,
	}, nil
}

type initRequest struct {
	PostInfo   postInfo   `json:"post_info"`
	SourceInfo sourceInfo `json:"source_info"`
}

type postInfo struct {
	Title        string `json:"title"`
	PrivacyLevel string `json:"privacy_level"`
}

type sourceInfo struct {
	Source          string `json:"source"`
	VideoSize       int64  `json:"video_size"`
	ChunkSize       int64  `json:"chunk_size"`
	TotalChunkCount int64  `json:"total_chunk_count"`
}

type initResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error apiError `json:"error"`
}

type statusResponse struct {
	Data struct {
		Status        string   `json:"status"`
		FailReason    string   `json:"fail_reason"`
		PublicPostIDs []string `json:"publicaly_available_post_id"`
	} `json:"data"`
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e apiError) ok() bool { return e.Code == "" || e.Code == "ok" }

// Publish runs the three-phase flow: init with the chunk plan, sequential
// Content-Range PUTs, then status polling until the post is live.
func (p *Publisher) Publish(ctx context.Context, req *repository.PublishRequest) (string, error) {
	title := req.Post.Title
	if title == "" {
		title = req.Post.Caption
	}
	totalChunks := (req.Video.Size + chunkSize - 1) / chunkSize
	if totalChunks == 0 {
		return "", fmt.Errorf("tiktok: empty video %q", req.Post.VideoKey)
	}

	initRes, err := p.initUpload(ctx, req.AccessToken, initRequest{
		PostInfo: postInfo{
			Title:        title,
			PrivacyLevel: privacyLevel(req.Options),
		},
		SourceInfo: sourceInfo{
			Source:          "FILE_UPLOAD",
			VideoSize:       req.Video.Size,
			ChunkSize:       chunkSize,
			TotalChunkCount: totalChunks,
		},
	})
	if err != nil {
		return "", err
	}

	if err := p.uploadChunks(ctx, initRes.Data.UploadURL, req, totalChunks); err != nil {
		return "", err
	}
	return p.awaitPublished(ctx, req.AccessToken, initRes.Data.PublishID)
}

func (p *Publisher) initUpload(ctx context.Context, accessToken string, body initRequest) (*initResponse, error) {
	var res initResponse
	if err := p.postJSON(ctx, accessToken, "/v2/post/publish/video/init/", body, &res); err != nil {
		return nil, fmt.Errorf("tiktok init upload: %w", err)
	}
	if !res.Error.ok() {
		return nil, fmt.Errorf("tiktok init upload: %s (%s)", res.Error.Message, res.Error.Code)
	}
	if res.Data.UploadURL == "" || res.Data.PublishID == "" {
		return nil, fmt.Errorf("tiktok init upload: incomplete response")
	}
	return &res, nil
}

func (p *Publisher) uploadChunks(ctx context.Context, uploadURL string, req *repository.PublishRequest, totalChunks int64) error {
	buf := make([]byte, chunkSize)
	var sent int64
	for chunk := int64(0); chunk < totalChunks; chunk++ {
		n, err := io.ReadFull(req.Video.Reader, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			if chunk != totalChunks-1 {
				return fmt.Errorf("tiktok upload: source truncated at chunk %d", chunk)
			}
		} else if err != nil {
			return fmt.Errorf("tiktok upload: reading chunk %d: %w", chunk, err)
		}
		if n == 0 {
			return fmt.Errorf("tiktok upload: empty chunk %d", chunk)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(buf[:n]))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", req.Video.MimeType)
		httpReq.ContentLength = int64(n)
		httpReq.Header.Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", sent, sent+int64(n)-1, req.Video.Size))

		res, err := p.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("tiktok upload: chunk %d: %w", chunk, err)
		}
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
		if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated &&
			res.StatusCode != http.StatusPartialContent {
			return fmt.Errorf("tiktok upload: chunk %d rejected with status %d", chunk, res.StatusCode)
		}

		sent += int64(n)
		if req.Progress != nil && req.Video.Size > 0 {
			req.Progress(int(sent * 100 / req.Video.Size))
		}
	}
	return nil
}

func (p *Publisher) awaitPublished(ctx context.Context, accessToken, publishID string) (string, error) {
	for i := 0; i < maxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		var res statusResponse
		err := p.postJSON(ctx, accessToken, "/v2/post/publish/status/fetch/",
			map[string]string{"publish_id": publishID}, &res)
		if err != nil {
			return "", fmt.Errorf("tiktok status poll: %w", err)
		}
		if !res.Error.ok() {
			return "", fmt.Errorf("tiktok status poll: %s (%s)", res.Error.Message, res.Error.Code)
		}
		switch res.Data.Status {
		case "PUBLISH_COMPLETE":
			if len(res.Data.PublicPostIDs) > 0 {
				return res.Data.PublicPostIDs[0], nil
			}
			return publishID, nil
		case "FAILED":
			return "", fmt.Errorf("tiktok publish failed: %s", res.Data.FailReason)
		}
		p.sleep(pollInterval)
	}
	return "", fmt.Errorf("tiktok publish %s still processing after %d polls", publishID, maxPolls)
}

func (p *Publisher) requestToken(ctx context.Context, reqBody tokenRequest) (*tokenResponse, error) {
	values, err := query.Values(reqBody)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiBase+"/v2/oauth/token/", strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tiktok token request: %w", err)
	}
	defer res.Body.Close()

	var token tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("tiktok token request: decoding response: %w", err)
	}
	if token.Error != "" {
		return nil, fmt.Errorf("tiktok token request: %s: %s", token.Error, token.ErrorDescription)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("tiktok token request: no access token in response")
	}
	return &token, nil
}

func (p *Publisher) userInfo(ctx context.Context, accessToken string) (displayName, avatarURL string, err error) {
	u := p.apiBase + "/v2/user/info/?fields=" + url.QueryEscape("open_id,display_name,avatar_url")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", "", err
	}
	defer res.Body.Close()

	var body struct {
		Data struct {
			User struct {
				DisplayName string `json:"display_name"`
				AvatarURL   string `json:"avatar_url"`
			} `json:"user"`
		} `json:"data"`
		Error apiError `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", "", err
	}
	if !body.Error.ok() {
		return "", "", fmt.Errorf("tiktok user info: %s (%s)", body.Error.Message, body.Error.Code)
	}
	return body.Data.User.DisplayName, body.Data.User.AvatarURL, nil
}

func (p *Publisher) postJSON(ctx context.Context, accessToken, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	res, err := p.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusUnauthorized {
		return repository.ErrReauthRequired
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func privacyLevel(options map[string]string) string {
	if v := options["privacy_level"]; v != "" {
		return v
	}
	return "SELF_ONLY"
}

func pkceKey(state string) string { return "pkce:" + state }

func newVerifier() (string, error) {
	raw := make([]byte, 48)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

var _ repository.IPlatformPublisher = (*Publisher)(nil)
